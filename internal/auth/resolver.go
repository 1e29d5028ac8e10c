package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aidenletourneau/scrapyard_server/internal/models"
)

// ErrUnauthenticated is returned when a request carries no usable identity
var ErrUnauthenticated = errors.New("auth: request is not authenticated")

// Resolver maps an incoming request onto the user making it
type Resolver interface {
	Resolve(r *http.Request) (models.UserProfile, error)
}

// HeaderResolver trusts identity headers set by an authenticating proxy
// in front of the server
type HeaderResolver struct {
	IDHeader   string
	NameHeader string
}

// NewHeaderResolver reads X-User-ID and X-User-Name
func NewHeaderResolver() HeaderResolver {
	return HeaderResolver{IDHeader: "X-User-ID", NameHeader: "X-User-Name"}
}

// Resolve implements Resolver
func (h HeaderResolver) Resolve(r *http.Request) (models.UserProfile, error) {
	raw := r.Header.Get(h.IDHeader)
	if raw == "" {
		return models.UserProfile{}, fmt.Errorf("%w: missing %s", ErrUnauthenticated, h.IDHeader)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return models.UserProfile{}, fmt.Errorf("%w: bad %s %q", ErrUnauthenticated, h.IDHeader, raw)
	}
	return models.UserProfile{ID: id, Username: r.Header.Get(h.NameHeader)}, nil
}
