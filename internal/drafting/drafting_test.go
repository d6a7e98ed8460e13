package drafting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/clinical-summary/internal/model"
)

var transcript = model.Transcript{
	{Speaker: model.SpeakerDoctor, Utterance: "What brings you in?"},
	{Speaker: model.SpeakerPatient, Utterance: "My knee hurts."},
}

func TestParseDraft(t *testing.T) {
	d := ParseDraft("Visit_Date:\nChief_Complaint: knee pain\nPlan_Medications:\n- Ibuprofen 400 mg\n- Ice\n\nThe patient reports knee pain.")
	assert.Equal(t, []string{"knee pain"}, d.Fields[model.FieldChiefComplaint])
	assert.Equal(t, []string{"Ibuprofen 400 mg", "Ice"}, d.Fields[model.FieldPlanMedications])
	_, ok := d.Fields[model.FieldVisitDate]
	assert.False(t, ok, "empty fields are omitted")
}

func TestPrompt(t *testing.T) {
	system, user := Prompt(Request{PatientID: "tomas", Transcript: transcript, Context: "=== MEDICAL RECORDS ==="})
	for _, f := range model.Fields {
		assert.Contains(t, system, string(f)+":")
	}
	assert.Contains(t, system, "Do not fabricate data.")
	assert.True(t, strings.HasPrefix(user, "=== MEDICAL RECORDS ==="))
	assert.Contains(t, user, "Patient: My knee hurts.")
}

func TestNop(t *testing.T) {
	d, err := Nop{}.Draft(context.Background(), Request{})
	require.NoError(t, err)
	assert.Empty(t, d.Fields)
}

func TestChatDrafter(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Chief_Complaint: knee pain\nPlan_Follow_Up: in 2 weeks"}}]}`))
	}))
	defer srv.Close()

	d := NewChatDrafter(srv.URL, "secret", "test-model", nil)
	draft, err := d.Draft(context.Background(), Request{Transcript: transcript})
	require.NoError(t, err)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, []string{"in 2 weeks"}, draft.Fields[model.FieldPlanFollowUp])
}

func TestChatDrafter_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewChatDrafter(srv.URL, "", "", nil).Draft(context.Background(), Request{Transcript: transcript})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestChatDrafter_RespectsDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewChatDrafter(srv.URL, "", "", nil).Draft(ctx, Request{Transcript: transcript})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOllamaDrafter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		w.Write([]byte(`{"message":{"role":"assistant","content":"Symptoms: knee pain, swelling"}}`))
	}))
	defer srv.Close()

	draft, err := NewOllamaDrafter(srv.URL, "", nil).Draft(context.Background(), Request{Transcript: transcript})
	require.NoError(t, err)
	assert.Equal(t, []string{"knee pain", "swelling"}, draft.Fields[model.FieldSymptoms])
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{"", "none", false},
		{"none", "none", false},
		{"openai", "openai", false},
		{"ollama", "ollama", false},
		{"bard", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Provider = tt.provider
			d, err := NewFromConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name())
		})
	}
}
