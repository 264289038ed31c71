package external

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/medical-examination-assistant/internal/domain"
)

// Transcriber turns audio into timed text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (*domain.Transcription, error)
	Configured() bool
}

// Diarizer splits audio into speaker turns
type Diarizer interface {
	Diarize(ctx context.Context, audio []byte) (*domain.Diarization, error)
	Health(ctx context.Context) string
}

// Diarization readiness values reported by Health
const (
	DiarizationReady       = "ready"
	DiarizationLoading     = "loading"
	DiarizationUnavailable = "unavailable"
)

// AudioFileName is the name given to uploaded audio parts
const AudioFileName = "recording.wav"

// multipartAudio builds a multipart body with the audio as "file" plus extra fields
func multipartAudio(audio []byte, fields map[string]string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", k, err)
		}
	}

	fw, err := mw.CreateFormFile("file", AudioFileName)
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", fmt.Errorf("writing audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// statusError reads a bounded part of a failed response body into an error
func statusError(service string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &domain.ExternalServiceError{
		Service: service,
		Err:     fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(b)),
	}
}
