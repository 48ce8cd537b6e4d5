package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/api"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/shielded"
)

func TestStatusErrorUnwrapsToPoolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, shielded.Address{0xa1}.String(), r.Header.Get(api.CallerHeader))
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{
			Code:     string(poolerr.CodeNullifierAlreadyUsed),
			Category: string(poolerr.Replay),
			Message:  "nullifier already used",
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", shielded.Address{0xa1})
	_, err := c.GetPool(context.Background(), shielded.Digest{1})
	require.ErrorIs(t, err, poolerr.ErrNullifierAlreadyUsed)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Status)
}

func TestNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL, shielded.Address{}).Faucet(context.Background(), shielded.Address{1}, 5)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "http_error", se.Response.Code)
	assert.Equal(t, http.StatusBadGateway, se.Status)
}
