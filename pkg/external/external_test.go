package external

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-examination-assistant/internal/domain"
)

func testAudio(n int) []byte {
	return bytes.Repeat([]byte{0x52}, n)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestTranscriptionClient_Transcribe(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		expectError  bool
		expectText   string
		expectLength int
	}{
		{
			name:   "verbose json response",
			status: http.StatusOK,
			body: `{"text":"Chào bác sĩ. Tôi bị ho.","language":"vi","duration":4.2,
				"segments":[{"start":0,"end":1.5,"text":"Chào bác sĩ."},{"start":1.5,"end":4.2,"text":"Tôi bị ho."}]}`,
			expectText:   "Chào bác sĩ. Tôi bị ho.",
			expectLength: 2,
		},
		{
			name:         "missing segments",
			status:       http.StatusOK,
			body:         `{"text":"xin chào"}`,
			expectText:   "xin chào",
			expectLength: 0,
		},
		{
			name:        "upstream error",
			status:      http.StatusUnauthorized,
			body:        `{"error":"invalid api key"}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/audio/transcriptions", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

				require.NoError(t, r.ParseMultipartForm(1<<20))
				assert.Equal(t, "whisper-large-v3", r.FormValue("model"))
				assert.Equal(t, "vi", r.FormValue("language"))
				assert.Equal(t, "verbose_json", r.FormValue("response_format"))

				file, header, err := r.FormFile("file")
				require.NoError(t, err)
				defer file.Close()
				assert.Equal(t, AudioFileName, header.Filename)

				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewTranscriptionClient(domain.TranscriptionConfig{
				BaseURL:  server.URL + "/",
				APIKey:   "test-key",
				Model:    "whisper-large-v3",
				Language: "vi",
				Timeout:  5 * time.Second,
			})
			assert.True(t, client.Configured())

			result, err := client.Transcribe(context.Background(), testAudio(2048))
			if tt.expectError {
				require.Error(t, err)
				var extErr *domain.ExternalServiceError
				require.ErrorAs(t, err, &extErr)
				assert.Equal(t, "transcription", extErr.Service)
				assert.Contains(t, err.Error(), "401")
				assert.Contains(t, err.Error(), "invalid api key")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectText, result.Text)
			assert.Len(t, result.Segments, tt.expectLength)
			assert.NotNil(t, result.Segments)
		})
	}
}

func TestTranscriptionClient_Configured(t *testing.T) {
	client := NewTranscriptionClient(domain.TranscriptionConfig{BaseURL: "http://localhost"})
	assert.False(t, client.Configured())
}

func TestDiarizationClient_Diarize(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/diarize-with-mapping", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("doctor_first"))

		_, _, err := r.FormFile("file")
		require.NoError(t, err)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"speakers": []map[string]interface{}{
				{"start": 0.0, "end": 2.0, "speaker": "SPEAKER_00", "role": "Bác sĩ"},
				{"start": 2.0, "end": 5.0, "speaker": "SPEAKER_01", "role": "Bệnh nhân"},
			},
			"num_speakers":    2,
			"duration":        5.0,
			"speaker_mapping": map[string]string{"SPEAKER_00": "Bác sĩ", "SPEAKER_01": "Bệnh nhân"},
		})
	}))
	defer server.Close()

	client := NewDiarizationClient(domain.DiarizationConfig{
		BaseURL:     server.URL,
		Timeout:     5 * time.Second,
		DoctorFirst: true,
	})

	result, err := client.Diarize(context.Background(), testAudio(4096))
	require.NoError(t, err)
	assert.Equal(t, 2, result.NumSpeakers)
	require.Len(t, result.Speakers, 2)
	assert.Equal(t, "Bệnh nhân", result.Speakers[1].Role)
	assert.Equal(t, "Bác sĩ", result.SpeakerMapping["SPEAKER_00"])

	t.Run("short audio skips the service", func(t *testing.T) {
		before := calls
		result, err := client.Diarize(context.Background(), testAudio(MinDiarizationBytes-1))
		require.NoError(t, err)
		assert.Empty(t, result.Speakers)
		assert.Equal(t, 0, result.NumSpeakers)
		assert.Equal(t, before, calls)
	})
}

func TestDiarizationClient_DiarizeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewDiarizationClient(domain.DiarizationConfig{BaseURL: server.URL})
	_, err := client.Diarize(context.Background(), testAudio(4096))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestDiarizationClient_Health(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		expected string
	}{
		{
			name: "model loaded",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"ok","model_loaded":true}`))
			},
			expected: DiarizationReady,
		},
		{
			name: "model loading",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"ok","model_loaded":false}`))
			},
			expected: DiarizationLoading,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			expected: DiarizationUnavailable,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			},
			expected: DiarizationUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewDiarizationClient(domain.DiarizationConfig{BaseURL: server.URL})
			assert.Equal(t, tt.expected, client.Health(context.Background()))
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		client := NewDiarizationClient(domain.DiarizationConfig{BaseURL: "http://127.0.0.1:1"})
		assert.Equal(t, DiarizationUnavailable, client.Health(context.Background()))
	})
}

func TestHISClient_UpdateVisit(t *testing.T) {
	var received visitUpdate
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/visits/V-2026-001", r.URL.Path)
		assert.Equal(t, "Bearer his-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewHISClient(domain.HISConfig{BaseURL: server.URL, APIKey: "his-key"})
	note := domain.SOAPNote{
		Subjective: "Ho 3 ngày",
		Objective:  "Nhiệt độ 38.2",
		Assessment: "Viêm phế quản cấp",
		Plan:       "Kháng sinh 5 ngày",
	}

	err := client.UpdateVisit(context.Background(), "V-2026-001", note, []string{"J20.9"})
	require.NoError(t, err)
	assert.Equal(t, "Viêm phế quản cấp", received.Assessment)
	assert.Equal(t, []string{"J20.9"}, received.ICDCodes)
}

func TestHISClient_UpdateVisitError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "visit not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHISClient(domain.HISConfig{BaseURL: server.URL})
	err := client.UpdateVisit(context.Background(), "missing", domain.SOAPNote{}, nil)
	var extErr *domain.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "his", extErr.Service)
}

type failingTranscriber struct {
	calls int
}

func (f *failingTranscriber) Configured() bool { return true }

func (f *failingTranscriber) Transcribe(ctx context.Context, audio []byte) (*domain.Transcription, error) {
	f.calls++
	return nil, assert.AnError
}

func TestResilientClients_TranscriberTrips(t *testing.T) {
	inner := &failingTranscriber{}
	diarizer := NewDiarizationClient(domain.DiarizationConfig{BaseURL: "http://127.0.0.1:1"})
	clients := NewResilientClients(inner, diarizer, nil, testLogger())
	transcriber := clients.Transcriber()

	for i := 0; i < 3; i++ {
		_, err := transcriber.Transcribe(context.Background(), testAudio(10))
		assert.ErrorIs(t, err, assert.AnError)
	}

	_, err := transcriber.Transcribe(context.Background(), testAudio(10))
	var extErr *domain.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, BreakerTranscription, extErr.Service)
	assert.Equal(t, 3, inner.calls)

	assert.Equal(t, "open", clients.States()[BreakerTranscription])
	assert.Equal(t, "closed", clients.States()[BreakerDiarization])
	assert.Nil(t, clients.HIS())
}

func TestResilientClients_Passthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	his := NewHISClient(domain.HISConfig{BaseURL: server.URL})
	diarizer := NewDiarizationClient(domain.DiarizationConfig{BaseURL: server.URL})
	clients := NewResilientClients(&failingTranscriber{}, diarizer, his, testLogger())

	require.NotNil(t, clients.HIS())
	require.NoError(t, clients.HIS().UpdateVisit(context.Background(), "v1", domain.SOAPNote{}, []string{"I10"}))

	result, err := clients.Diarizer().Diarize(context.Background(), testAudio(10))
	require.NoError(t, err)
	assert.Empty(t, result.Speakers)

	assert.Equal(t, uint32(1), clients.Stats()[BreakerHIS].TotalSuccesses)
}
