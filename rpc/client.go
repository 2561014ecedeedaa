package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	identityflow "github.com/0xsequence/identity-flow"
	"github.com/0xsequence/identity-flow/auth"
	"github.com/0xsequence/identity-flow/o11y"
	"github.com/0xsequence/identity-flow/proto"
	"github.com/go-chi/traceid"
	"github.com/go-chi/transport"
)

const maxResponseSize = 1 << 20

// Client talks to the stage server over HTTP.
type Client struct {
	baseURL         string
	client          o11y.HTTPClient
	multipartImages bool
}

var _ auth.Sender = (*Client)(nil)

type ClientOption func(*Client)

// WithMultipartImages uploads image payloads as multipart/form-data with the image in
// the "photo" field instead of base64 inside the JSON body.
func WithMultipartImages() ClientOption {
	return func(c *Client) { c.multipartImages = true }
}

// NewTransport returns the RoundTripper chain used for all outgoing requests.
func NewTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return transport.Chain(
		base,
		transport.SetHeader("User-Agent", "identity-flow/"+identityflow.VERSION),
		traceid.Transport,
	)
}

func NewClient(baseURL string, rt http.RoundTripper, timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: o11y.WrapClient(&http.Client{
			Timeout:   timeout,
			Transport: rt,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send implements auth.Sender. It posts to <base>/api/login/<stage>/.
func (c *Client) Send(ctx context.Context, req *proto.StageRequest) (*proto.StageResponse, error) {
	name, err := req.Stage.WireName()
	if err != nil {
		return nil, proto.ErrState.WithCause(err)
	}
	endpoint := c.baseURL + "/api/login/" + url.PathEscape(name) + "/"

	var (
		body        []byte
		contentType string
	)
	if c.multipartImages && req.Data.Kind() == proto.PayloadKind_Image {
		body, contentType, err = encodeMultipart(req)
	} else {
		body, err = json.Marshal(req)
		contentType = "application/json"
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", name, err)
	}

	return c.post(ctx, endpoint, contentType, body)
}

// ValidateAuthSession asks the server whether an auth session id is still valid.
func (c *Client) ValidateAuthSession(ctx context.Context, authSessionID string) error {
	if authSessionID == "" {
		return proto.ErrAuthSessionInvalid.WithCausef("auth session id is required")
	}
	body, err := json.Marshal(map[string]string{"auth_session_id": authSessionID})
	if err != nil {
		return err
	}

	res, err := c.post(ctx, c.baseURL+"/api/client/validate/", "application/json", body)
	if err != nil {
		return err
	}
	if !res.OK() || !res.Accepted() {
		return proto.ErrAuthSessionInvalid.WithCausef("status %d: %s", res.Status, res.Message)
	}
	return nil
}

// CheckDeviceUnique reports whether no other login session currently uses the device.
func (c *Client) CheckDeviceUnique(ctx context.Context, deviceID string) (bool, error) {
	body, err := json.Marshal(map[string]string{"pico_id": deviceID})
	if err != nil {
		return false, err
	}

	res, err := c.post(ctx, c.baseURL+"/api/login/motion_pattern/unique/", "application/json", body)
	if err != nil {
		return false, err
	}
	switch {
	case res.OK() && res.Accepted():
		return true, nil
	case res.Status == http.StatusBadRequest && !res.Accepted():
		return false, nil
	default:
		return false, proto.ErrProtocol.WithCausef("device check: status %d success %d", res.Status, res.Success)
	}
}

func (c *Client) post(ctx context.Context, endpoint string, contentType string, body []byte) (*proto.StageResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	httpRes, err := c.client.Do(httpReq)
	if err != nil {
		return nil, proto.ErrTransientTransport.WithCausef("post %s: %w", endpoint, err)
	}
	defer httpRes.Body.Close()

	return decodeResponse(httpRes)
}

func decodeResponse(httpRes *http.Response) (*proto.StageResponse, error) {
	b, err := io.ReadAll(io.LimitReader(httpRes.Body, maxResponseSize))
	if err != nil {
		return nil, proto.ErrTransientTransport.WithCausef("read response: %w", err)
	}

	var res proto.StageResponse
	if err := json.Unmarshal(b, &res); err != nil {
		// an HTML error page from a proxy in front of a failing server
		if httpRes.StatusCode >= http.StatusInternalServerError {
			return nil, proto.ErrTransientTransport.WithCausef("status %d: %w", httpRes.StatusCode, err)
		}
		return nil, proto.ErrProtocol.WithCausef("status %d: %w", httpRes.StatusCode, err)
	}
	res.Status = httpRes.StatusCode
	return &res, nil
}

func encodeMultipart(req *proto.StageRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if req.SessionID != "" {
		if err := w.WriteField("session_id", req.SessionID); err != nil {
			return nil, "", err
		}
	}
	if req.DeviceID != "" {
		if err := w.WriteField("pico_id", req.DeviceID); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="photo"; filename="capture.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Data.Image()); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
