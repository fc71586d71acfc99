package httpapi

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"applyflow-engine/internal/config"
	"applyflow-engine/internal/secrets"
)

type SecretsHandler struct {
	CfgVal *atomic.Value // config.Config
}

// SetIMAPPassword stores the IMAP app password in the OS keychain. It
// never lands in config or the database.
func (h SecretsHandler) SetIMAPPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_json", err.Error())
		return
	}

	cfg := h.CfgVal.Load().(config.Config)
	account := secrets.IMAPKeyringAccount(cfg)
	if err := secrets.SetIMAPPassword(account, body.Password); err != nil {
		WriteError(w, r, http.StatusBadRequest, "keyring_failed", err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true, "account": account})
}
