// Package dlp screens staged uploads against extension, size and AV
// signature rules before any converter touches them.
package dlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Violation describes a DLP/AV policy failure.
type Violation struct {
	Rule   string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("dlp violation (%s): %s", v.Rule, v.Detail)
}

// Upload is a staged file ready for screening.
type Upload struct {
	JobID    string
	Field    string
	FileName string // client-supplied name
	Path     string // staged location on disk
	Size     int64
}

// Scanner executes policy checks on staged uploads.
type Scanner interface {
	ScanUpload(ctx context.Context, u Upload) error
	Enforced() bool
}

// RuleScanner performs simple extension/size/AV signature checks.
type RuleScanner struct {
	blockedExt        map[string]struct{}
	maxFileSize       int64
	avSignatures      [][]byte
	enforceViolations bool
}

const readBlock = 64 << 10

// NewRuleScannerFromEnv builds a scanner from environment variables.
// It can be disabled entirely via DLP_DISABLED=true, in which case it
// returns nil.
func NewRuleScannerFromEnv() Scanner {
	if strings.EqualFold(os.Getenv("DLP_DISABLED"), "true") {
		return nil
	}
	s := &RuleScanner{
		blockedExt: map[string]struct{}{
			".exe": {},
			".bat": {},
			".ps1": {},
			".js":  {},
		},
		enforceViolations: !strings.EqualFold(os.Getenv("DLP_MODE"), "monitor"),
	}
	if raw := os.Getenv("DLP_BLOCKED_EXTENSIONS"); raw != "" {
		s.blockedExt = parseExtensions(raw)
	}
	if raw := os.Getenv("DLP_MAX_FILE_SIZE"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			s.maxFileSize = v
		}
	}
	if raw := os.Getenv("DLP_AV_PATTERNS"); raw != "" {
		for _, pat := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(pat); trimmed != "" {
				s.avSignatures = append(s.avSignatures, []byte(trimmed))
			}
		}
	}
	return s
}

// NewRuleScanner builds a scanner from explicit rules.
func NewRuleScanner(blockedExt []string, maxFileSize int64, signatures []string, enforce bool) *RuleScanner {
	s := &RuleScanner{
		blockedExt:        parseExtensions(strings.Join(blockedExt, ",")),
		maxFileSize:       maxFileSize,
		enforceViolations: enforce,
	}
	for _, sig := range signatures {
		if sig != "" {
			s.avSignatures = append(s.avSignatures, []byte(sig))
		}
	}
	return s
}

func parseExtensions(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, ext := range strings.Split(raw, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}

func (s *RuleScanner) Enforced() bool {
	return s.enforceViolations
}

func (s *RuleScanner) ScanUpload(ctx context.Context, u Upload) error {
	if u.Path == "" {
		return errors.New("staged path required")
	}
	if u.FileName != "" {
		ext := strings.ToLower(filepath.Ext(u.FileName))
		if _, blocked := s.blockedExt[ext]; blocked {
			return &Violation{
				Rule:   "blocked_extension",
				Detail: fmt.Sprintf("extension %q not allowed", ext),
			}
		}
	}
	if s.maxFileSize > 0 && u.Size > s.maxFileSize {
		return &Violation{
			Rule:   "max_file_size",
			Detail: fmt.Sprintf("file size %d exceeds limit %d", u.Size, s.maxFileSize),
		}
	}
	if len(s.avSignatures) == 0 {
		return nil
	}
	f, err := os.Open(u.Path)
	if err != nil {
		return fmt.Errorf("open staged upload: %w", err)
	}
	defer f.Close()
	return s.scanSignatures(ctx, u.JobID, f)
}

// scanSignatures reads r in blocks, carrying the tail of each block so a
// signature split across a block boundary still matches.
func (s *RuleScanner) scanSignatures(ctx context.Context, jobID string, r io.Reader) error {
	longest := 0
	for _, sig := range s.avSignatures {
		if len(sig) > longest {
			longest = len(sig)
		}
	}
	buf := make([]byte, 0, readBlock+longest)
	block := make([]byte, readBlock)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(block)
		if n > 0 {
			buf = append(buf, block[:n]...)
			for _, sig := range s.avSignatures {
				if bytes.Contains(buf, sig) {
					return &Violation{
						Rule:   "av_signature",
						Detail: fmt.Sprintf("job %s matched AV signature", jobID),
					}
				}
			}
			if keep := longest - 1; len(buf) > keep {
				buf = append(buf[:0], buf[len(buf)-keep:]...)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read staged upload: %w", err)
		}
	}
}
