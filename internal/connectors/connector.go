// Package connectors copies finished conversion artifacts to external
// storage (object stores, file servers).
package connectors

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Artifact is a produced file that has already been streamed to the client.
type Artifact struct {
	JobID       string
	Feature     string
	Name        string // download name
	ContentType string
	Path        string // local file
	Size        int64
}

// Connector copies artifacts to an external target (cloud/object store/etc).
type Connector interface {
	Name() string
	StoreArtifact(ctx context.Context, a Artifact) error
}

// Load instantiates the connectors named in tokens (s3, azure, sftp, ftps).
// A connector that fails to initialise is logged and left out.
func Load(ctx context.Context, tokens []string, logger zerolog.Logger) []Connector {
	var instances []Connector
	for _, token := range tokens {
		token = strings.TrimSpace(strings.ToLower(token))
		if token == "" {
			continue
		}
		var (
			conn Connector
			err  error
		)
		switch token {
		case "s3":
			conn, err = NewS3Connector(ctx)
		case "azure":
			conn, err = NewAzureBlobConnector()
		case "sftp":
			conn, err = NewSFTPConnector()
		case "ftps":
			conn, err = NewFTPSConnector()
		default:
			err = fmt.Errorf("unknown connector %q", token)
		}
		if err != nil {
			logger.Error().Err(err).Str("connector", token).Msg("failed to init connector")
			continue
		}
		logger.Info().Str("connector", conn.Name()).Msg("initialized connector")
		instances = append(instances, conn)
	}
	return instances
}

// Archive fans an artifact out to every connector.
type Archive struct {
	connectors []Connector
	strict     bool
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewArchive wraps connectors. strict raises failures to error level.
func NewArchive(conns []Connector, strict bool, logger zerolog.Logger) *Archive {
	return &Archive{connectors: conns, strict: strict, timeout: 2 * time.Minute, logger: logger}
}

// Len is the number of active connectors.
func (a *Archive) Len() int {
	if a == nil {
		return 0
	}
	return len(a.connectors)
}

// Store copies art to every connector and returns the number that failed.
// The response has already been sent, so the copy is detached from the
// request's cancellation but still bounded by a timeout.
func (a *Archive) Store(ctx context.Context, art Artifact) int {
	if a.Len() == 0 {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	failed := 0
	for _, conn := range a.connectors {
		if err := conn.StoreArtifact(ctx, art); err != nil {
			failed++
			ev := a.logger.Warn()
			if a.strict {
				ev = a.logger.Error()
			}
			ev.Err(err).
				Str("connector", conn.Name()).
				Str("job_id", art.JobID).
				Str("feature", art.Feature).
				Msg("connector failed to store artifact")
			continue
		}
		a.logger.Debug().
			Str("connector", conn.Name()).
			Str("job_id", art.JobID).
			Msg("artifact archived")
	}
	return failed
}

// keyFor lays artifacts out as <prefix>/<feature>/<job>/<name>.
func keyFor(prefix string, art Artifact) string {
	parts := []string{}
	if p := strings.Trim(strings.TrimSpace(prefix), "/"); p != "" {
		parts = append(parts, p)
	}
	feature := art.Feature
	if feature == "" {
		feature = "misc"
	}
	name := path.Base(strings.ReplaceAll(art.Name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "artifact"
	}
	parts = append(parts, feature, art.JobID, name)
	return path.Join(parts...)
}
