package audit

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/obs"
)

// HTTPRecorder turns admin writes into audit entries.
type HTTPRecorder struct {
	Service *Service
	OnError func(error)
}

// HTTPConfig describes one audited route group. Action defaults to
// "METHOD route" and MetadataFunc may attach extra JSON.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
}

// Middleware records an entry once the handler has answered, with the final
// status. GET, HEAD and OPTIONS are not recorded.
func (h HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			switch {
			case h.Service == nil, !h.Service.Enabled:
				next.ServeHTTP(w, req)
				return
			case req.Method == http.MethodGet, req.Method == http.MethodHead, req.Method == http.MethodOptions:
				next.ServeHTTP(w, req)
				return
			}

			sr := obs.NewStatusRecorder(w)
			next.ServeHTTP(sr, req)
			status := sr.Status()

			ctx := req.Context()
			uid, _ := common.UserID(ctx)
			actor := Actor{UserID: uid, Role: common.Role(ctx)}
			var id string
			if cfg.ResourceIDParam != "" {
				id = chi.URLParam(req, cfg.ResourceIDParam)
			}
			err := h.Service.Record(ctx, actor, cfg.Action, cfg.ResourceType, id, req, status, cfg.metadata(req, status))
			if err != nil && h.OnError != nil {
				h.OnError(err)
			}
		})
	}
}

func (c HTTPConfig) metadata(req *http.Request, status int) []byte {
	if c.MetadataFunc == nil {
		return nil
	}
	extra := c.MetadataFunc(req, status)
	if extra == nil {
		return nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil
	}
	return b
}
