// Package balancetest provides an in-process account service speaking the balance
// authority wire protocol, for use in tests.
package balancetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

type Authority struct {
	*httptest.Server

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	updates  int

	// FailGet and FailUpdate force a status code on the next matching calls when non-zero.
	FailGet    int
	FailUpdate int
	// HonorExpected makes the authority reject writes whose expected_balance is stale.
	HonorExpected bool
	// BeforeRead, when set, runs before a balance is read. Tests use it to line up readers.
	BeforeRead func(userID string)
}

func NewAuthority(initial map[string]decimal.Decimal) *Authority {
	a := &Authority{balances: make(map[string]decimal.Decimal)}
	for k, v := range initial {
		a.balances[k] = v
	}
	a.Server = httptest.NewServer(http.HandlerFunc(a.handle))
	return a
}

func (a *Authority) Balance(userID string) (decimal.Decimal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.balances[userID]
	return b, ok
}

func (a *Authority) Set(userID string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[userID] = amount
}

// Updates reports how many writes were applied.
func (a *Authority) Updates() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.updates
}

func (a *Authority) handle(w http.ResponseWriter, r *http.Request) {
	userID, ok := parsePath(r.URL.Path)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.handleGet(w, userID)
	case http.MethodPut:
		a.handlePut(w, r, userID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *Authority) handleGet(w http.ResponseWriter, userID string) {
	if a.BeforeRead != nil {
		a.BeforeRead(userID)
	}

	a.mu.Lock()
	fail := a.FailGet
	b, ok := a.balances[userID]
	a.mu.Unlock()

	if fail != 0 {
		w.WriteHeader(fail)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": b})
}

func (a *Authority) handlePut(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Balance         *decimal.Decimal `json:"balance"`
		ExpectedBalance *decimal.Decimal `json:"expected_balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Balance == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid parameters"})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailUpdate != 0 {
		w.WriteHeader(a.FailUpdate)
		return
	}
	current, ok := a.balances[userID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "user not found"})
		return
	}
	if a.HonorExpected && req.ExpectedBalance != nil && !req.ExpectedBalance.Equal(current) {
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "balance changed"})
		return
	}

	a.balances[userID] = *req.Balance
	a.updates++
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": *req.Balance})
}

func parsePath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/users/")
	if !ok {
		return "", false
	}
	userID, ok := strings.CutSuffix(rest, "/balance")
	if !ok || userID == "" || strings.Contains(userID, "/") {
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
