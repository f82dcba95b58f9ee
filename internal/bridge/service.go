package bridge

import (
	"crypto/hmac"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lighthouse-bridge/matrix-opensim/internal/config"
	"github.com/lighthouse-bridge/matrix-opensim/internal/database"
	"github.com/lighthouse-bridge/matrix-opensim/internal/matrix"
	"github.com/lighthouse-bridge/matrix-opensim/internal/opensim"
)

// ServiceName identifies the bridge in status and health responses.
const ServiceName = "lighthouse-bridge"

var (
	ErrNotEnabled = errors.New("bridge not enabled for this group")
)

const avatarFetchTimeout = 10 * time.Second

// Service is the relay core: it keeps the puppet user set, membership,
// display identity and power levels on the Matrix side consistent with the
// simulator's group state, and moves messages in both directions.
//
// The service holds no cache of remote state. The homeserver is queried each
// time and its idempotency error codes are whitelisted, so the world stays
// convergent across bridge restarts.
type Service struct {
	log    zerolog.Logger
	cfg    *config.Config
	db     *database.Database
	matrix *matrix.Client
	sim    *opensim.Client

	// avatarHTTP fetches profile images from the grid's picture endpoint.
	avatarHTTP *http.Client
}

func NewService(cfg *config.Config, db *database.Database, mx *matrix.Client, sim *opensim.Client, log zerolog.Logger) *Service {
	return &Service{
		log:        log,
		cfg:        cfg,
		db:         db,
		matrix:     mx,
		sim:        sim,
		avatarHTTP: &http.Client{Timeout: avatarFetchTimeout},
	}
}

// secretEquals compares secrets in constant time over the UTF-8 bytes.
func secretEquals(got, want string) bool {
	return hmac.Equal([]byte(got), []byte(want))
}
