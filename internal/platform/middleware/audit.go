package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wardops/wardops/internal/platform/auth"
)

// AuditPrefix is the route prefix whose mutations are audited.
const AuditPrefix = "/api/v1/oncall/"

// AuditEntry records one mutation of on-call data: who changed what, when.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Collection string // jobs, list, handover
	RecordID   string
	Action     string // create, status, note, update, remove, acknowledge
	Owner      string
	Method     string
	Path       string
	RemoteIP   string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit emits one structured line per mutating request under AuditPrefix,
// after the handler has run so the status is known. Reads are not audited.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isMutation(req.Method) || !strings.HasPrefix(req.URL.Path, AuditPrefix) {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Method:     req.Method,
				Path:       req.URL.Path,
				RemoteIP:   c.RealIP(),
				StatusCode: c.Response().Status,
				Owner:      c.QueryParam("owner"),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			ctx := req.Context()
			entry.UserID = auth.UserIDFromContext(ctx)
			entry.UserRoles = auth.RolesFromContext(ctx)
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.Collection, entry.RecordID, entry.Action = describe(req.Method, req.URL.Path)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "oncall_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("collection", entry.Collection).
				Str("record_id", entry.RecordID).
				Str("action", entry.Action).
				Str("owner", entry.Owner).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.StatusCode).
				Msg("oncall_mutation")

			return err
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// describe splits an audited path into collection, record id and action.
//
//	POST   /api/v1/oncall/jobs               -> jobs, "", create
//	POST   /api/v1/oncall/jobs/<id>/status   -> jobs, <id>, status
//	DELETE /api/v1/oncall/list/<id>          -> list, <id>, remove
//	POST   /api/v1/oncall/handover/acknowledge -> handover, "", acknowledge
func describe(method, path string) (collection, recordID, action string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, AuditPrefix), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", "", methodAction(method)
	}
	collection = segments[0]
	rest := segments[1:]
	if len(rest) > 0 && isUUID(rest[0]) {
		recordID = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		return collection, recordID, rest[len(rest)-1]
	}
	return collection, recordID, methodAction(method)
}

func methodAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "remove"
	default:
		return "read"
	}
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
