package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultPDS = "https://bsky.social"

	feedPostCollection = "app.bsky.feed.post"
	embedImagesType    = "app.bsky.embed.images"
)

// Client is a minimal BlueSky/AT Protocol XRPC client covering what
// crossposting needs: sessions, blob uploads, and post records.
type Client struct {
	pds        string
	identifier string
	password   string
	httpClient *http.Client

	// populated after Login
	accessJwt  string
	refreshJwt string
	did        string
}

// NewClient creates a new BlueSky API client. If pds is empty, it defaults
// to https://bsky.social. Use an App Password, not the account password.
func NewClient(pds, identifier, password string) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	return &Client{
		pds:        pds,
		identifier: identifier,
		password:   password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Login authenticates with the PDS and stores the session tokens.
func (c *Client) Login(ctx context.Context) error {
	body := map[string]string{
		"identifier": c.identifier,
		"password":   c.password,
	}

	var resp sessionResponse
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.accessJwt = resp.AccessJwt
	c.refreshJwt = resp.RefreshJwt
	c.did = resp.DID
	return nil
}

// refresh renews the session with the refresh token, falling back to a
// fresh login when the token is no longer accepted.
func (c *Client) refresh(ctx context.Context) error {
	if c.refreshJwt != "" {
		var resp sessionResponse
		err := c.postWithToken(ctx, "/xrpc/com.atproto.server.refreshSession", c.refreshJwt, nil, &resp)
		if err == nil {
			c.accessJwt = resp.AccessJwt
			c.refreshJwt = resp.RefreshJwt
			c.did = resp.DID
			return nil
		}
	}
	return c.Login(ctx)
}

// withAuthRetry runs call, refreshing the session and retrying once when
// the failure looks like an expired or rejected token.
func (c *Client) withAuthRetry(ctx context.Context, call func() error) error {
	err := call()
	if err == nil || !IsAuth(err) {
		return err
	}
	if refreshErr := c.refresh(ctx); refreshErr != nil {
		return fmt.Errorf("refresh session after %v: %w", err, refreshErr)
	}
	return call()
}

// DID returns the authenticated user's DID. Only valid after Login.
func (c *Client) DID() string {
	return c.did
}

// BlobRef represents an AT Protocol blob reference for uploaded content.
type BlobRef struct {
	Type string `json:"$type"`
	Ref  struct {
		Link string `json:"$link"`
	} `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
}

// PostRecord is the record body for app.bsky.feed.post.
type PostRecord struct {
	Type      string       `json:"$type"`
	Text      string       `json:"text"`
	CreatedAt string       `json:"createdAt"`
	Langs     []string     `json:"langs,omitempty"`
	Embed     *ImagesEmbed `json:"embed,omitempty"`
}

// ImagesEmbed is an app.bsky.embed.images embed.
type ImagesEmbed struct {
	Type   string       `json:"$type"`
	Images []EmbedImage `json:"images"`
}

// EmbedImage is one image within an images embed.
type EmbedImage struct {
	Alt         string       `json:"alt"`
	Image       *BlobRef     `json:"image"`
	AspectRatio *AspectRatio `json:"aspectRatio,omitempty"`
}

// AspectRatio hints how clients should crop the image.
type AspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// UploadBlob uploads raw image bytes as a blob and returns a reference.
// The blob is deleted if not referenced in a record within a time window.
func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (*BlobRef, error) {
	if c.accessJwt == "" {
		return nil, fmt.Errorf("not authenticated: call Login first")
	}

	var blob BlobRef
	err := c.withAuthRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", mimeType)
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)

		var result uploadBlobResponse
		if err := c.do(req, &result); err != nil {
			return err
		}
		blob = result.Blob
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}

	return &blob, nil
}

// CreatePost creates an app.bsky.feed.post record in the authenticated
// user's repo and returns the record's URI and CID.
func (c *Client) CreatePost(ctx context.Context, record PostRecord) (uri, cid string, err error) {
	if c.accessJwt == "" {
		return "", "", fmt.Errorf("not authenticated: call Login first")
	}

	if record.Type == "" {
		record.Type = feedPostCollection
	}

	var resp createRecordResponse
	callErr := c.withAuthRetry(ctx, func() error {
		body := createRecordRequest{
			Repo:       c.did,
			Collection: feedPostCollection,
			Record:     record,
		}
		return c.post(ctx, "/xrpc/com.atproto.repo.createRecord", body, &resp)
	})
	if callErr != nil {
		return "", "", fmt.Errorf("create record: %w", callErr)
	}

	return resp.URI, resp.CID, nil
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.postWithToken(ctx, path, c.accessJwt, body, result)
}

func (c *Client) postWithToken(ctx context.Context, path, token string, body any, result any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+path, payload)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

type createRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type uploadBlobResponse struct {
	Blob BlobRef `json:"blob"`
}
