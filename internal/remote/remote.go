// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package remote uploads finished recordings to the configured storage provider.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/voxsync/internal/domain/recordings/model"
)

// ErrRejected means the provider answered with a non-success status.
var ErrRejected = errors.New("remote provider rejected upload")

// Object is one file to create remotely.
type Object struct {
	Name            string
	MimeType        string
	CreatedAt       time.Time
	DurationSeconds int
	Payload         []byte
}

// RemoteRef identifies a created remote file.
type RemoteRef struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
}

// Uploader creates one file per call. Implementations never retry.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, token string, obj Object) (RemoteRef, error)
}

// ObjectFromRecord maps a recording onto the upload shape.
func ObjectFromRecord(rec model.Record) Object {
	mime := rec.MimeType
	if mime == "" {
		mime = model.DefaultMimeType
	}
	return Object{
		Name:            rec.Filename,
		MimeType:        mime,
		CreatedAt:       rec.CreatedAt,
		DurationSeconds: rec.DurationSeconds,
		Payload:         rec.Payload,
	}
}

// Metadata is the JSON part sent alongside the payload.
type Metadata struct {
	Name            string   `json:"name"`
	MimeType        string   `json:"mimeType"`
	CreatedTime     string   `json:"createdTime"`
	DurationSeconds int      `json:"durationSeconds"`
	Parents         []string `json:"parents,omitempty"`
}

// MetadataFor builds the metadata document for obj.
func MetadataFor(obj Object, folder string) Metadata {
	m := Metadata{
		Name:            obj.Name,
		MimeType:        obj.MimeType,
		CreatedTime:     obj.CreatedAt.UTC().Format(time.RFC3339Nano),
		DurationSeconds: obj.DurationSeconds,
	}
	if folder != "" {
		m.Parents = []string{folder}
	}
	return m
}

func (m Metadata) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// Config selects and configures the provider.
type Config struct {
	Provider  string // drive | http | s3
	FolderID  string
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// New returns the configured uploader. Unknown providers fail closed.
func New(cfg Config, client *http.Client) (Uploader, error) {
	switch cfg.Provider {
	case "", ProviderDrive:
		return NewDrive(cfg.FolderID, cfg.Endpoint, client), nil
	case ProviderHTTP:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("remote provider %s requires an endpoint", ProviderHTTP)
		}
		return NewHTTPUploader(cfg.Endpoint, cfg.FolderID, client), nil
	case ProviderS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("remote provider %s requires a bucket", ProviderS3)
		}
		return NewS3(S3Config{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.FolderID,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		}, client), nil
	default:
		return nil, fmt.Errorf("unknown remote provider: %s (supported: drive, http, s3)", cfg.Provider)
	}
}

const (
	ProviderDrive = "drive"
	ProviderHTTP  = "http"
	ProviderS3    = "s3"
)
