package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mcdev12/studysync/go/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	anonymousName = "Anonymous User"
	guestPrefix   = "Guest-"
)

var errNoToken = errors.New("no token presented")

// UserClaim is the user block the account service embeds in its tokens.
type UserClaim struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Claims is the token payload. Tokens without a user block fall back to the
// registered subject and a top-level name.
type Claims struct {
	User *UserClaim `json:"user,omitempty"`
	Name string     `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Resolver turns connection credentials into an Identity. It never rejects:
// anything it cannot verify becomes an anonymous identity.
type Resolver struct {
	secret []byte
	parser *jwt.Parser
}

// NewResolver creates a resolver that accepts HS256 tokens signed with secret.
func NewResolver(secret string) *Resolver {
	return &Resolver{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Resolve returns the identity for a connection. requestedName is used for
// anonymous identities only.
func (r *Resolver) Resolve(token, requestedName, connectionID string) models.Identity {
	claims, err := r.verify(token)
	if err != nil {
		if !errors.Is(err, errNoToken) {
			log.Debug().
				Err(err).
				Str("connection_id", connectionID).
				Msg("token rejected, continuing as anonymous")
		}
		return Anonymous(connectionID, requestedName)
	}

	id, name, email := claims.identity()
	if id == "" {
		log.Debug().Str("connection_id", connectionID).Msg("token carries no user id, continuing as anonymous")
		return Anonymous(connectionID, requestedName)
	}
	if name == "" {
		name = anonymousName
	}

	return models.Identity{
		PersistentID: id,
		ConnectionID: connectionID,
		DisplayName:  name,
		Email:        email,
		IsVerified:   true,
	}
}

// ResolveRequest pulls the token from the Authorization header or the token
// query parameter and the display name from the name query parameter.
func (r *Resolver) ResolveRequest(req *http.Request, connectionID string) models.Identity {
	return r.Resolve(TokenFromRequest(req), req.URL.Query().Get("name"), connectionID)
}

func (r *Resolver) verify(raw string) (*Claims, error) {
	if raw == "" || len(r.secret) == 0 {
		return nil, errNoToken
	}
	claims := &Claims{}
	_, err := r.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims, nil
}

func (c *Claims) identity() (id, name, email string) {
	if c.User != nil {
		id, name, email = c.User.ID, c.User.Name, c.User.Email
	}
	if id == "" {
		id = c.Subject
	}
	if name == "" {
		name = c.Name
	}
	return id, name, email
}

// Anonymous builds an unverified identity. An empty name gets a generated
// guest name derived from the connection id.
func Anonymous(connectionID, requestedName string) models.Identity {
	name := strings.TrimSpace(requestedName)
	if name == "" {
		suffix := connectionID
		if len(suffix) > 4 {
			suffix = suffix[:4]
		}
		name = guestPrefix + suffix
	}
	return models.Identity{
		ConnectionID: connectionID,
		DisplayName:  name,
	}
}

// TokenFromRequest extracts a bearer token from the request.
func TokenFromRequest(req *http.Request) string {
	if h := req.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimPrefix(req.URL.Query().Get("token"), "Bearer ")
}
