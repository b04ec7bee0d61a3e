package cvextract

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kormo-connect/backend/internal/ai"
	"github.com/kormo-connect/backend/internal/profiles"
	"github.com/kormo-connect/backend/internal/quota"
	"github.com/kormo-connect/backend/internal/serviceerr"
)

type fakeProfiles struct {
	profile  profiles.Profile
	applied  profiles.CVFields
	uploaded string
}

func (f *fakeProfiles) Get(_ context.Context, id string) (profiles.Profile, error) {
	if id != f.profile.ID {
		return profiles.Profile{}, profiles.ErrProfileNotFound
	}
	return f.profile, nil
}

func (f *fakeProfiles) ApplyCVExtraction(_ context.Context, _ string, fields profiles.CVFields) (profiles.Profile, error) {
	f.applied = fields
	updated := f.profile
	updated.FirstName = fields.FirstName
	updated.Skills = fields.Skills
	return updated, nil
}

func (f *fakeProfiles) RecordCVUpload(_ context.Context, _ string, objectKey, _ string) error {
	f.uploaded = objectKey
	return nil
}

type fakeQuota struct {
	deny  bool
	calls int
}

func (f *fakeQuota) Enforce(context.Context, string, quota.Operation, profiles.Tier) error {
	f.calls++
	if f.deny {
		return &quota.DeniedError{Operation: quota.OperationCVAnalysis, Decision: quota.Decision{RetryAfter: 30 * time.Second, Limit: 3}}
	}
	return nil
}

type fakeStore struct {
	keys []string
	err  error
}

func (f *fakeStore) Put(_ context.Context, key, _ string, _ []byte) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

func newTestService(t *testing.T, reply string, store *fakeStore) (*Service, *fakeProfiles, *fakeQuota, *[]ai.Prompt) {
	t.Helper()
	profileStore := &fakeProfiles{profile: profiles.Profile{ID: "worker-1", SubscriptionStatus: profiles.SubscriptionFree}}
	quotaEnforcer := &fakeQuota{}
	prompts := &[]ai.Prompt{}
	completer := ai.CompleterFunc(func(_ context.Context, prompt ai.Prompt) (string, error) {
		*prompts = append(*prompts, prompt)
		return reply, nil
	})
	cfg := ServiceConfig{
		Profiles:  profileStore,
		Quota:     quotaEnforcer,
		Completer: completer,
		Clock:     func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	}
	if store != nil {
		cfg.Storage = store
	}
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, profileStore, quotaEnforcer, prompts
}

const extractionReply = "```json\n{\"first_name\":\"Nusrat\",\"last_name\":\"Jahan\",\"skills\":\"Go, SQL\",\"work_experience\":\"2 years\",\"education\":\"BSc\",\"phone_number\":\"+8801\"}\n```"

func TestAnalyzeCVTextFileInlinesContent(t *testing.T) {
	store := &fakeStore{}
	service, profileStore, quotaEnforcer, prompts := newTestService(t, extractionReply, store)

	outcome, err := service.AnalyzeCV(context.Background(), Request{
		WorkerID:   "worker-1",
		FileBase64: base64.StdEncoding.EncodeToString([]byte("Nusrat Jahan, Go developer")),
		Filename:   "my cv (final).txt",
	})
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if !outcome.Success || outcome.ExtractedData.FirstName != "Nusrat" || outcome.Profile.Skills != "Go, SQL" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if profileStore.applied.PhoneNumber != "+8801" {
		t.Fatalf("expected extracted fields to reach the profile, got %+v", profileStore.applied)
	}
	if quotaEnforcer.calls != 1 {
		t.Fatalf("expected one quota consumption, got %d", quotaEnforcer.calls)
	}
	if len(*prompts) != 1 || (*prompts)[0].Attachment != nil || !strings.Contains((*prompts)[0].Text, "Go developer") {
		t.Fatalf("expected text CV inlined in the prompt, got %+v", *prompts)
	}
	wantKey := "worker-1/1700000000000-my_cv__final_.txt"
	if len(store.keys) != 1 || store.keys[0] != wantKey || profileStore.uploaded != wantKey || outcome.ObjectKey != wantKey {
		t.Fatalf("expected archive under %q, got %v / %q", wantKey, store.keys, profileStore.uploaded)
	}
}

func TestAnalyzeCVBinaryFileIsAttached(t *testing.T) {
	service, _, _, prompts := newTestService(t, extractionReply, nil)

	_, err := service.AnalyzeCV(context.Background(), Request{
		WorkerID:   "worker-1",
		FileBase64: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
		Filename:   "cv.PDF",
	})
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	attachment := (*prompts)[0].Attachment
	if attachment == nil || attachment.MIMEType != "application/pdf" || string(attachment.Data) != "%PDF-1.4" {
		t.Fatalf("expected pdf attachment, got %+v", attachment)
	}
}

func TestAnalyzeCVValidation(t *testing.T) {
	service, _, quotaEnforcer, _ := newTestService(t, extractionReply, nil)
	cases := []Request{
		{WorkerID: "worker-1", FileBase64: base64.StdEncoding.EncodeToString([]byte("x")), Filename: "cv.exe"},
		{WorkerID: "worker-1", FileBase64: "not base64!!", Filename: "cv.pdf"},
		{WorkerID: "worker-1", FileBase64: "", Filename: "cv.pdf"},
		{WorkerID: "worker-1", FileBase64: base64.StdEncoding.EncodeToString(make([]byte, MaxFileBytes+1)), Filename: "cv.pdf"},
	}
	for i, request := range cases {
		if _, err := service.AnalyzeCV(context.Background(), request); !errors.Is(err, serviceerr.ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
	if quotaEnforcer.calls != 0 {
		t.Fatalf("expected validation to happen before quota")
	}
}

func TestAnalyzeCVQuotaDenied(t *testing.T) {
	store := &fakeStore{}
	service, _, quotaEnforcer, prompts := newTestService(t, extractionReply, store)
	quotaEnforcer.deny = true

	_, err := service.AnalyzeCV(context.Background(), Request{
		WorkerID:   "worker-1",
		FileBase64: base64.StdEncoding.EncodeToString([]byte("cv")),
		Filename:   "cv.txt",
	})
	var denied *quota.DeniedError
	if !errors.As(err, &denied) || denied.RetryAfterSeconds() != 30 {
		t.Fatalf("expected quota denial, got %v", err)
	}
	if len(*prompts) != 0 || len(store.keys) != 0 {
		t.Fatalf("expected denial to skip completer and archive")
	}
}

func TestAnalyzeCVUnparseableReply(t *testing.T) {
	service, profileStore, _, _ := newTestService(t, "I could not read this file.", nil)

	_, err := service.AnalyzeCV(context.Background(), Request{
		WorkerID:   "worker-1",
		FileBase64: base64.StdEncoding.EncodeToString([]byte("cv")),
		Filename:   "cv.txt",
	})
	if !errors.Is(err, ErrUnparseableReply) {
		t.Fatalf("expected unparseable reply, got %v", err)
	}
	if profileStore.applied != (profiles.CVFields{}) {
		t.Fatalf("expected profile to stay untouched")
	}
}

func TestAnalyzeCVArchiveFailureIsNotFatal(t *testing.T) {
	store := &fakeStore{err: errors.New("bucket offline")}
	service, profileStore, _, _ := newTestService(t, extractionReply, store)

	outcome, err := service.AnalyzeCV(context.Background(), Request{
		WorkerID:   "worker-1",
		FileBase64: base64.StdEncoding.EncodeToString([]byte("cv")),
		Filename:   "cv.txt",
	})
	if err != nil {
		t.Fatalf("expected archive failure to be tolerated, got %v", err)
	}
	if outcome.ObjectKey != "" || profileStore.uploaded != "" {
		t.Fatalf("expected no recorded upload, got %q", outcome.ObjectKey)
	}
}
