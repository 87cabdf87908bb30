// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ManuGH/voxsync/internal/platform/httpx"
)

// Drive creates files in Google Drive with a single multipart upload,
// whatever the payload size.
type Drive struct {
	folderID string
	endpoint string
	client   *http.Client
}

// NewDrive uploads into folderID (root when empty). endpoint overrides the
// API base path for tests.
func NewDrive(folderID, endpoint string, client *http.Client) *Drive {
	if client == nil {
		client = httpx.NewClient(0)
	}
	return &Drive{folderID: folderID, endpoint: endpoint, client: client}
}

func (d *Drive) Name() string { return ProviderDrive }

func (d *Drive) Upload(ctx context.Context, token string, obj Object) (RemoteRef, error) {
	base := d.client.Transport
	if base == nil {
		base = httpx.NewTransport(d.client.Timeout)
	}
	hc := &http.Client{
		Timeout: d.client.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   base,
		},
	}

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if d.endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.endpoint))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return RemoteRef{}, fmt.Errorf("drive service: %w", err)
	}

	meta := MetadataFor(obj, d.folderID)
	file := &drive.File{
		Name:          meta.Name,
		MimeType:      meta.MimeType,
		CreatedTime:   meta.CreatedTime,
		Parents:       meta.Parents,
		AppProperties: map[string]string{"durationSeconds": strconv.Itoa(obj.DurationSeconds)},
	}

	created, err := svc.Files.Create(file).
		// ChunkSize(0) keeps large payloads on the multipart endpoint
		// instead of switching to a resumable session.
		Media(bytes.NewReader(obj.Payload), googleapi.ContentType(obj.MimeType), googleapi.ChunkSize(0)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return RemoteRef{}, fmt.Errorf("%w: drive status %d: %s", ErrRejected, gerr.Code, gerr.Message)
		}
		return RemoteRef{}, fmt.Errorf("drive upload: %w", err)
	}
	return RemoteRef{Provider: ProviderDrive, ID: created.Id}, nil
}

var _ Uploader = (*Drive)(nil)
