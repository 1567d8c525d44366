package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeySlug       = "slug"
	KeyPhase      = "phase"
	KeyProposalID = "proposal_id"
	KeySessionID  = "session_id"
	KeyDocType    = "doc_type"
	KeyCorpus     = "corpus"
	KeyBackend    = "backend"
	KeyPath       = "path"
	KeyBranch     = "branch"
	KeyQuery      = "query"
	KeyCount      = "count"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
	KeyMethod     = "method"
	KeyStatus     = "status"
	KeyRemoteAddr = "remote_addr"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Slug(s string) slog.Attr           { return slog.String(KeySlug, s) }
func Phase(p string) slog.Attr          { return slog.String(KeyPhase, p) }
func ProposalID(id string) slog.Attr    { return slog.String(KeyProposalID, id) }
func SessionID(id string) slog.Attr     { return slog.String(KeySessionID, id) }
func DocType(t string) slog.Attr        { return slog.String(KeyDocType, t) }
func Corpus(c string) slog.Attr         { return slog.String(KeyCorpus, c) }
func Backend(b string) slog.Attr        { return slog.String(KeyBackend, b) }
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func Branch(b string) slog.Attr         { return slog.String(KeyBranch, b) }
func Query(q string) slog.Attr          { return slog.String(KeyQuery, q) }
func Count(n int) slog.Attr             { return slog.Int(KeyCount, n) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }
func Method(m string) slog.Attr         { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr         { return slog.Int(KeyStatus, code) }
func RemoteAddr(addr string) slog.Attr  { return slog.String(KeyRemoteAddr, addr) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
