package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/roomlink/roomlink/internal/chat"
	"github.com/roomlink/roomlink/internal/util"
)

// HTTPSource fetches backlog pages from the server's history API.
type HTTPSource struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPSource creates a source against baseURL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: util.NormalizeURL(baseURL),
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// serverMessage is the backlog store's record shape.
type serverMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	ImageURL  string `json:"imageUrl,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (sm *serverMessage) toMessage() *chat.Message {
	return &chat.Message{
		ServerID:  sm.ID,
		ClientID:  sm.ClientID,
		Sender:    sm.Sender,
		UserID:    sm.UserID,
		Text:      sm.Message,
		ImageURL:  sm.ImageURL,
		Timestamp: sm.Timestamp,
	}
}

// FetchPage implements Source. The response lists messages oldest-to-newest
// within the page, with the room's total count alongside.
func (s *HTTPSource) FetchPage(ctx context.Context, roomID string, limit, offset int) (*Page, error) {
	u := fmt.Sprintf("%s/api/rooms/%s/messages?limit=%d&offset=%d",
		s.BaseURL, url.PathEscape(roomID), limit, offset)

	var body struct {
		Results []serverMessage `json:"results"`
		Count   int             `json:"count"`
	}
	if err := s.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}

	page := &Page{Count: body.Count, Results: make([]*chat.Message, 0, len(body.Results))}
	for i := range body.Results {
		page.Results = append(page.Results, body.Results[i].toMessage())
	}
	return page, nil
}

// OffsetOf implements Source using the companion offset-lookup endpoint.
func (s *HTTPSource) OffsetOf(ctx context.Context, roomID, messageID string, pageSize int) (int, error) {
	u := fmt.Sprintf("%s/api/rooms/%s/messages/offset?message_id=%s&page_size=%d",
		s.BaseURL, url.PathEscape(roomID), url.QueryEscape(messageID), pageSize)

	var body struct {
		Offset int `json:"offset"`
	}
	if err := s.getJSON(ctx, u, &body); err != nil {
		return 0, err
	}
	return body.Offset, nil
}

// getJSON performs a GET request, drains the response body, and decodes JSON
// into v.
func (s *HTTPSource) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("GET %s: status %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
