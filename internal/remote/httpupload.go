// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package remote

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// HTTPUploader posts a multipart create-file request with a JSON "metadata"
// part followed by a binary "file" part.
type HTTPUploader struct {
	endpoint string
	folder   string
	client   *resty.Client
}

type createResponse struct {
	ID string `json:"id"`
}

func NewHTTPUploader(endpoint, folder string, client *http.Client) *HTTPUploader {
	var rc *resty.Client
	if client != nil {
		rc = resty.NewWithClient(client)
	} else {
		rc = resty.New()
	}
	rc.SetRetryCount(0)
	return &HTTPUploader{endpoint: endpoint, folder: folder, client: rc}
}

func (u *HTTPUploader) Name() string { return ProviderHTTP }

func (u *HTTPUploader) Upload(ctx context.Context, token string, obj Object) (RemoteRef, error) {
	meta, err := MetadataFor(obj, u.folder).JSON()
	if err != nil {
		return RemoteRef{}, fmt.Errorf("encode metadata: %w", err)
	}

	var out createResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetMultipartFields(
			&resty.MultipartField{
				Param:       "metadata",
				FileName:    "metadata.json",
				ContentType: "application/json; charset=UTF-8",
				Reader:      bytes.NewReader(meta),
			},
			&resty.MultipartField{
				Param:       "file",
				FileName:    obj.Name,
				ContentType: obj.MimeType,
				Reader:      bytes.NewReader(obj.Payload),
			},
		).
		SetResult(&out).
		Post(u.endpoint)
	if err != nil {
		return RemoteRef{}, fmt.Errorf("http upload: %w", err)
	}
	if !resp.IsSuccess() {
		return RemoteRef{}, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode())
	}
	return RemoteRef{Provider: ProviderHTTP, ID: out.ID}, nil
}

var _ Uploader = (*HTTPUploader)(nil)
