package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/clinrec/internal/authoring"
	"github.com/ehr/clinrec/internal/config"
	"github.com/ehr/clinrec/internal/dictation"
	"github.com/ehr/clinrec/internal/domain/patient"
	"github.com/ehr/clinrec/internal/domain/record"
	"github.com/ehr/clinrec/internal/platform/auth"
	"github.com/ehr/clinrec/internal/platform/draftstore"
	"github.com/ehr/clinrec/internal/platform/glossary"
	"github.com/ehr/clinrec/internal/platform/recordsapi"
	"github.com/ehr/clinrec/internal/platform/speech"
)

func authorCmd() *cobra.Command {
	var patientID, recordID string
	cmd := &cobra.Command{
		Use:   "author",
		Short: "Open an interactive authoring console for one clinical record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (patientID == "") == (recordID == "") {
				return errors.New("exactly one of --patient or --record is required")
			}
			return runAuthor(cmd.Context(), patientID, recordID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&patientID, "patient", "", "Start a new record for this patient id")
	cmd.Flags().StringVar(&recordID, "record", "", "Open an existing record id")
	return cmd
}

func dictationTag(source string) record.Provenance {
	if source == config.DictationWebSpeech {
		return record.ProvenanceVoiceWebSpeech
	}
	return record.ProvenanceVoiceCloudSTT
}

func runAuthor(ctx context.Context, patientID, recordID string, in io.Reader, out io.Writer) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stderr)

	session := auth.ParseSession(cfg.APIToken)
	if cfg.APIToken != "" && session == nil {
		logger.Warn().Msg("API_TOKEN is not a readable JWT, requests will be sent without credentials")
	}
	client := recordsapi.NewClient(cfg.APIBaseURL, recordsapi.StaticSession{S: session})

	var recognizer dictation.Recognizer
	if cfg.DictationURL != "" {
		recognizer = speech.NewRecognizer(speech.Config{URL: cfg.DictationURL, Token: cfg.APIToken})
	}
	capture := dictation.NewCapture(
		dictation.Detect(recognizer, dictationTag(cfg.DictationSource)),
		dictation.WithLocale(cfg.DictationLocale),
		dictation.WithLogger(logger),
	)

	terms := glossary.Default()
	if cfg.GlossaryPath != "" {
		if terms, err = glossary.Load(cfg.GlossaryPath); err != nil {
			return err
		}
	}

	journal, err := draftstore.Open(cfg.DraftDBPath)
	if err != nil {
		return err
	}
	defer journal.Close()
	pruner, err := draftstore.NewPruner(journal, cfg.DraftPruneSchedule, cfg.DraftRetention, logger)
	if err != nil {
		return err
	}
	pruner.Start()
	defer pruner.Stop()

	sess := authoring.New(client, capture,
		authoring.WithLogger(logger),
		authoring.WithNormalizer(terms),
		authoring.WithChangeHook(journalHook(journal, logger)),
	)
	defer sess.StopDictation()

	c := &console{sess: sess, api: client, journal: journal, terms: terms, out: out}
	if recordID != "" {
		id, err := uuid.Parse(recordID)
		if err != nil {
			return fmt.Errorf("invalid record id: %w", err)
		}
		if err := sess.Load(ctx, id); err != nil {
			return fmt.Errorf("load record: %w", err)
		}
	} else {
		id, err := uuid.Parse(patientID)
		if err != nil {
			return fmt.Errorf("invalid patient id: %w", err)
		}
		sess.NewRecord(id)
	}
	if session != nil {
		fmt.Fprintf(out, "signed in as %s\n", session.UserID)
	}
	return c.run(ctx, in)
}

// journalHook writes every local change to the draft journal so unsaved work
// survives a crash or a rejected save.
func journalHook(journal *draftstore.Store, logger zerolog.Logger) func(string, authoring.Payload) {
	return func(key string, p authoring.Payload) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := journal.Save(ctx, key, p); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("journal write failed")
		}
	}
}

// recordsAPI is the part of the records client the console uses beyond
// authoring.Store.
type recordsAPI interface {
	NewVersion(ctx context.Context, id uuid.UUID) (*record.ClinicalRecord, error)
	Patient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type console struct {
	sess    *authoring.Session
	api     recordsAPI
	journal *draftstore.Store
	terms   *glossary.Glossary
	out     io.Writer
}

const consoleHelp = `commands:
  view                     show the record
  select <n>               make section n (1-8) active for dictation
  set <n> <text>           replace section n with typed text
  notes <text>             replace the general notes
  dictate start|stop       control voice dictation into the active section
  terms                    list glossary terms found in the active section
  save                     create or update the record
  submit | finalize | void request a lifecycle transition
  version                  open a new draft version of a finalized record
  patient                  show the record's patient
  drafts                   list journaled drafts
  restore <key>            reload the open record's journaled draft
  help | quit`

func (c *console) run(ctx context.Context, in io.Reader) error {
	c.printView()
	scanner := bufio.NewScanner(in)
	fmt.Fprint(c.out, "> ")
	for scanner.Scan() {
		quit, err := c.exec(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(c.out, "error: %s\n", describe(err))
		}
		if quit {
			return nil
		}
		fmt.Fprint(c.out, "> ")
	}
	return scanner.Err()
}

// describe renders an error for the user. Server rejections are shown with
// the server's own wording.
func describe(err error) string {
	var rej *recordsapi.RejectionError
	if errors.As(err, &rej) {
		return fmt.Sprintf("rejected by server (%d): %s", rej.Status, rej.Message)
	}
	return err.Error()
}

func sectionIndex(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("section must be a number, got %q", arg)
	}
	return n - 1, nil
}

func (c *console) exec(ctx context.Context, line string) (bool, error) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
	case "view":
		c.printView()
	case "select":
		i, err := sectionIndex(rest)
		if err != nil {
			return false, err
		}
		return false, c.sess.SetActiveSection(i)
	case "set":
		arg, text, _ := strings.Cut(rest, " ")
		i, err := sectionIndex(arg)
		if err != nil {
			return false, err
		}
		return false, c.sess.SetManualContent(i, text)
	case "notes":
		return false, c.sess.SetGeneralNotes(rest)
	case "dictate":
		return false, c.dictate(ctx, rest)
	case "terms":
		c.printTerms()
	case "save":
		return false, c.save(ctx)
	case "submit", "submit-for-review", "finalize", "void":
		if cmd == "submit" {
			cmd = string(record.ActionSubmitForReview)
		}
		action, err := record.ParseAction(cmd)
		if err != nil {
			return false, err
		}
		rec, err := c.sess.Apply(ctx, action)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "record is now %s\n", rec.State)
	case "version":
		return false, c.newVersion(ctx)
	case "patient":
		return false, c.printPatient(ctx)
	case "drafts":
		return false, c.printDrafts(ctx)
	case "restore":
		return false, c.restore(ctx, rest)
	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
	return false, nil
}

func (c *console) dictate(ctx context.Context, arg string) error {
	switch arg {
	case "start":
		if !c.sess.DictationSupported() {
			return dictation.ErrUnsupported
		}
		return c.sess.StartDictation(ctx)
	case "stop":
		c.sess.StopDictation()
		return nil
	}
	return fmt.Errorf("dictate expects start or stop, got %q", arg)
}

func (c *console) save(ctx context.Context) error {
	before := c.sess.JournalKey()
	sent := c.sess.BuildSubmissionPayload()
	rec, err := c.sess.Save(ctx)
	if err != nil {
		return err
	}
	// Both keys: a first save moves the draft from its patient key to its record key.
	for _, key := range []string{before, c.sess.JournalKey()} {
		if err := c.journal.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear journal: %w", err)
		}
	}
	// Dictation may have landed while the request was in flight.
	if now := c.sess.BuildSubmissionPayload(); !reflect.DeepEqual(now, sent) {
		if err := c.journal.Save(ctx, c.sess.JournalKey(), now); err != nil {
			return fmt.Errorf("journal unsaved changes: %w", err)
		}
		fmt.Fprintln(c.out, "changes made during the save are kept in the journal, save again to send them")
	}
	fmt.Fprintf(c.out, "saved %s (version %d, %s)\n", rec.ID, rec.Version, rec.State)
	return nil
}

func (c *console) newVersion(ctx context.Context) error {
	rec := c.sess.Record()
	if rec == nil || !rec.IsPersisted() {
		return authoring.ErrNotSaved
	}
	next, err := c.api.NewVersion(ctx, rec.ID)
	if err != nil {
		return err
	}
	if err := c.sess.Load(ctx, next.ID); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "opened version %d as %s\n", next.Version, next.ID)
	return nil
}

func (c *console) restore(ctx context.Context, key string) error {
	entry, err := c.journal.Load(ctx, key)
	if err != nil {
		return err
	}
	if open := c.sess.JournalKey(); key != open {
		return fmt.Errorf("%w: %s is not the journal entry of the open record (%s)", authoring.ErrDraftMismatch, key, open)
	}
	if err := c.sess.Restore(entry.Draft); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "restored draft saved %s\n", entry.SavedAt.Format(time.RFC3339))
	return nil
}

func (c *console) printDrafts(ctx context.Context) error {
	entries, err := c.journal.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "no journaled drafts")
	}
	for _, e := range entries {
		fmt.Fprintf(c.out, "%-50s %s\n", e.Key, e.SavedAt.Format(time.RFC3339))
	}
	return nil
}

func (c *console) printPatient(ctx context.Context) error {
	rec := c.sess.Record()
	if rec == nil {
		return authoring.ErrNoRecord
	}
	p, err := c.api.Patient(ctx, rec.PatientID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s  DNI %s\n", p.FullName(), p.NationalID)
	return nil
}

func (c *console) printTerms() {
	v := c.sess.View()
	for _, s := range v.Sections {
		if !s.Active {
			continue
		}
		matches := c.terms.Detect(s.Content)
		if len(matches) == 0 {
			fmt.Fprintln(c.out, "no glossary terms found")
		}
		for _, m := range matches {
			fmt.Fprintf(c.out, "%-30s %-8s %s\n", m.Term, m.ICD10, m.Category)
		}
	}
}

func (c *console) printView() {
	v := c.sess.View()
	id := "(unsaved)"
	if v.RecordID != nil {
		id = v.RecordID.String()
	}
	fmt.Fprintf(c.out, "record %s  patient %s  v%d  %s\n", id, v.PatientID, v.Version, v.State)
	if len(v.AllowedActions) > 0 {
		names := make([]string, len(v.AllowedActions))
		for i, a := range v.AllowedActions {
			names[i] = string(a)
		}
		fmt.Fprintf(c.out, "actions: %s\n", strings.Join(names, ", "))
	}
	if v.GeneralNotes != "" {
		fmt.Fprintf(c.out, "notes: %s\n", v.GeneralNotes)
	}
	for _, s := range v.Sections {
		marker := " "
		if s.Active {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %d. %-12s [%s] %s\n", marker, s.Position, s.Type, s.Provenance, s.Content)
	}
	switch {
	case !v.DictationSupported:
		fmt.Fprintln(c.out, "dictation: unavailable")
	case v.Dictation.Active:
		fmt.Fprintf(c.out, "dictation: listening  %s\n", v.Dictation.InterimTranscript)
	}
}
