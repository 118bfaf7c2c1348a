package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mkarpova/fieldsync/internal/faults"
	"github.com/mkarpova/fieldsync/internal/models"
)

const defaultTimeout = 12 * time.Second

// HTTPStore talks JSON over HTTP to the record store.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore returns a store bound to baseURL, e.g. "https://api.example.com/v1".
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type wireAttachment struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
	Drawing []byte `json:"drawing,omitempty"`
}

type wireRecord struct {
	ID          string           `json:"id"`
	TemplateID  string           `json:"template_id"`
	Name        string           `json:"name"`
	Category    string           `json:"category"`
	Kind        string           `json:"kind"`
	Answer      string           `json:"answer"`
	Hidden      bool             `json:"hidden"`
	Attachments []wireAttachment `json:"attachments"`
}

type uploadRequest struct {
	Data    []byte `json:"data"`
	Caption string `json:"caption"`
}

func (s *HTTPStore) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, "/ping", nil, nil)
}

func (s *HTTPStore) CreateAnswerRecord(ctx context.Context, data RecordData) (Created, error) {
	var out Created
	if err := s.do(ctx, http.MethodPost, "/records", data, &out); err != nil {
		return Created{}, err
	}
	return out, nil
}

func (s *HTTPStore) UpdateAnswerRecord(ctx context.Context, remoteID string, patch RecordPatch) error {
	return s.do(ctx, http.MethodPatch, "/records/"+url.PathEscape(remoteID), patch, nil)
}

func (s *HTTPStore) ListAnswerRecords(ctx context.Context, serviceID string) ([]models.VisualRecord, error) {
	var wire []wireRecord
	if err := s.do(ctx, http.MethodGet, "/records?service="+url.QueryEscape(serviceID), nil, &wire); err != nil {
		return nil, err
	}

	out := make([]models.VisualRecord, 0, len(wire))
	for _, w := range wire {
		v := models.VisualRecord{
			RemoteID:   w.ID,
			TemplateID: w.TemplateID,
			Name:       w.Name,
			Category:   w.Category,
			Kind:       w.Kind,
			Answer:     w.Answer,
			Hidden:     w.Hidden,
		}
		for _, a := range w.Attachments {
			v.Attachments = append(v.Attachments, models.RemoteAttachment{
				AttachmentID: a.ID,
				Caption:      a.Caption,
				Drawing:      a.Drawing,
			})
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *HTTPStore) UploadBinary(ctx context.Context, recordID string, data []byte, caption string) (Uploaded, error) {
	var out Uploaded
	path := "/records/" + url.PathEscape(recordID) + "/attachments"
	if err := s.do(ctx, http.MethodPost, path, uploadRequest{Data: data, Caption: caption}, &out); err != nil {
		return Uploaded{}, err
	}
	return out, nil
}

func (s *HTTPStore) GetBinary(ctx context.Context, attachmentID string) ([]byte, error) {
	var out struct {
		Data []byte `json:"data"`
	}
	if err := s.do(ctx, http.MethodGet, "/attachments/"+url.PathEscape(attachmentID)+"/binary", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (s *HTTPStore) UpdateAttachmentMetadata(ctx context.Context, attachmentID string, meta AttachmentMetadata) error {
	return s.do(ctx, http.MethodPatch, "/attachments/"+url.PathEscape(attachmentID), meta, nil)
}

func (s *HTTPStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	return s.do(ctx, http.MethodDelete, "/attachments/"+url.PathEscape(attachmentID), nil, nil)
}

func (s *HTTPStore) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return faults.Transientf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if err := mapStatus(resp.StatusCode); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// mapStatus folds HTTP status codes into the faults taxonomy.
func mapStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return faults.ErrNotFound
	case code == http.StatusConflict:
		return faults.ErrConflict
	case code == http.StatusBadRequest || code == http.StatusRequestEntityTooLarge || code == http.StatusUnprocessableEntity:
		return faults.ErrValidation
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return faults.ErrTransient
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}
