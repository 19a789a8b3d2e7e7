package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

const defaultPinataURL = "https://api.pinata.cloud/pinning/pinFileToIPFS"

// PinataPublisher pins files to IPFS through the Pinata pinning API.
type PinataPublisher struct {
	Endpoint   string
	JWT        string
	GatewayURL string
	Client     *http.Client
}

// NewPinataPublisher constructs a publisher authenticated with the provided JWT.
func NewPinataPublisher(endpoint, jwt, gatewayURL string) (*PinataPublisher, error) {
	if strings.TrimSpace(jwt) == "" {
		return nil, fmt.Errorf("pinata publisher: jwt is required")
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = defaultPinataURL
	}
	return &PinataPublisher{
		Endpoint:   endpoint,
		JWT:        jwt,
		GatewayURL: strings.TrimSuffix(gatewayURL, "/"),
		Client:     &http.Client{},
	}, nil
}

// Publish streams r as a multipart upload and returns the resulting IPFS hash.
func (p *PinataPublisher) Publish(ctx context.Context, r io.Reader, name string) (string, error) {
	if p == nil {
		return "", ErrPublisherUnavailable
	}
	if strings.TrimSpace(name) == "" {
		name = "video.mp4"
	}

	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)

	go func() {
		writer.CloseWithError(writeForm(form, r, name))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, body)
	if err != nil {
		body.Close()
		return "", fmt.Errorf("build pinata request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.JWT)

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinata upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("pinata upload returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode pinata response: %w", err)
	}
	if payload.IpfsHash == "" {
		return "", fmt.Errorf("pinata response missing IpfsHash")
	}

	return payload.IpfsHash, nil
}

// URL renders the gateway location of an IPFS hash.
func (p *PinataPublisher) URL(contentID string) string {
	if p == nil || p.GatewayURL == "" {
		return "ipfs://" + contentID
	}
	return p.GatewayURL + "/" + contentID
}

func writeForm(form *multipart.Writer, r io.Reader, name string) error {
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	metadata, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}
	if err := form.WriteField("pinataMetadata", string(metadata)); err != nil {
		return err
	}
	return form.Close()
}
