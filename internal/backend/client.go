package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/chadiek/prescreen/internal/speech"
	json "github.com/goccy/go-json"
)

// Operation names reported in RemoteError.
const (
	OpStartSession   = "start session"
	OpSubmitAnswer   = "submit answer"
	OpSubmitFollowUp = "submit follow-up answer"
	OpTranscribe     = "transcribe audio"
	OpTextToSpeech   = "text-to-speech"
	OpFetchSession   = "fetch session"
)

// Client talks to the intake backend. Each call is a single request with no retry.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

// NewClient builds a client for baseURL. The HTTP client carries no timeout of its own.
func NewClient(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// StartSession opens a conversation seeded with optional domain questions.
func (c *Client) StartSession(ctx context.Context, patientLabel string, domainQuestions []string) (StartSessionResponse, error) {
	body, err := json.Marshal(startSessionRequest{PatientName: patientLabel, DomainQuestions: domainQuestions})
	if err != nil {
		return StartSessionResponse{}, &RemoteError{Op: OpStartSession, Err: err}
	}
	var out StartSessionResponse
	if err := c.do(ctx, OpStartSession, http.MethodPost, "/start_session", "application/json", bytes.NewReader(body), &out); err != nil {
		return StartSessionResponse{}, err
	}
	return out, nil
}

// SubmitAnswer records a screening answer and returns the next step.
func (c *Client) SubmitAnswer(ctx context.Context, req AnswerRequest) (AnswerResponse, error) {
	fields := []formField{
		{"session_id", req.SessionID},
		{"question", req.Question},
		{"text", req.Answer},
	}
	if req.DomainQuestions != nil {
		seeds, err := json.Marshal(req.DomainQuestions)
		if err != nil {
			return AnswerResponse{}, &RemoteError{Op: OpSubmitAnswer, Err: err}
		}
		fields = append(fields, formField{"domain_questions", string(seeds)})
	}
	return c.postAnswer(ctx, OpSubmitAnswer, "/answer", fields)
}

// SubmitFollowUpAnswer records a follow-up answer alongside the prior form data.
func (c *Client) SubmitFollowUpAnswer(ctx context.Context, req FollowUpAnswerRequest) (AnswerResponse, error) {
	formData := req.FormData
	if formData == nil {
		formData = map[string]any{}
	}
	encoded, err := json.Marshal(formData)
	if err != nil {
		return AnswerResponse{}, &RemoteError{Op: OpSubmitFollowUp, Err: err}
	}
	fields := []formField{
		{"session_id", req.SessionID},
		{"question", req.Question},
		{"text", req.Answer},
		{"form_data", string(encoded)},
		{"max_questions", strconv.Itoa(req.MaxQuestions)},
	}
	return c.postAnswer(ctx, OpSubmitFollowUp, "/followup_answer", fields)
}

// Transcribe uploads a recorded clip and returns its text.
func (c *Client) Transcribe(ctx context.Context, audio speech.Audio) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, clipFilename(contentType)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err == nil {
		_, err = part.Write(audio.Data)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return "", &RemoteError{Op: OpTranscribe, Err: err}
	}

	var out transcribeResponse
	if err := c.do(ctx, OpTranscribe, http.MethodPost, "/transcribe", mw.FormDataContentType(), &buf, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Transcription), nil
}

// TextToSpeech fetches rendered audio for text.
func (c *Client) TextToSpeech(ctx context.Context, text string) (speech.Audio, error) {
	path := "/tts?" + url.Values{"text": {text}}.Encode()
	resp, err := c.send(ctx, OpTextToSpeech, http.MethodGet, path, "", nil)
	if err != nil {
		return speech.Audio{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return speech.Audio{}, &RemoteError{Op: OpTextToSpeech, Status: resp.StatusCode, Err: err}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/wav"
	}
	return speech.Audio{Data: data, ContentType: contentType}, nil
}

// FetchSession returns the backend's stored transcript of a session.
func (c *Client) FetchSession(ctx context.Context, sessionID string) (SessionTranscript, error) {
	var out SessionTranscript
	if err := c.do(ctx, OpFetchSession, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), "", nil, &out); err != nil {
		return SessionTranscript{}, err
	}
	return out, nil
}

type formField struct{ name, value string }

func (c *Client) postAnswer(ctx context.Context, op, path string, fields []formField) (AnswerResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return AnswerResponse{}, &RemoteError{Op: op, Err: err}
		}
	}
	if err := mw.Close(); err != nil {
		return AnswerResponse{}, &RemoteError{Op: op, Err: err}
	}
	var out AnswerResponse
	if err := c.do(ctx, op, http.MethodPost, path, mw.FormDataContentType(), &buf, &out); err != nil {
		return AnswerResponse{}, err
	}
	out.NextQuestion = strings.TrimSpace(out.NextQuestion)
	return out, nil
}

// do sends a request and decodes a JSON body into out.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.send(ctx, op, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// send performs the request; any non-2xx status becomes a RemoteError and the body is closed.
func (c *Client) send(ctx context.Context, op, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, &RemoteError{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &RemoteError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

func clipFilename(contentType string) string {
	switch {
	case strings.Contains(contentType, "wav"):
		return "answer.wav"
	case strings.Contains(contentType, "ogg"):
		return "answer.ogg"
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return "answer.mp3"
	default:
		return "answer.webm"
	}
}
