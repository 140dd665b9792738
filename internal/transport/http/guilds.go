package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jcolson/dndvault-bot-sub000/internal/domain"
	"github.com/jcolson/dndvault-bot-sub000/internal/temporal"
)

// PolicyReader serves effective guild policies and drops cached copies.
type PolicyReader interface {
	Policy(ctx context.Context, guildID string) (domain.GuildPolicy, error)
	Invalidate(guildID string)
}

type PolicyStore interface {
	Upsert(ctx context.Context, p domain.GuildPolicy) error
}

type ProfileStore interface {
	Profile(ctx context.Context, guildID, userID string) (domain.UserProfile, error)
	Upsert(ctx context.Context, p domain.UserProfile) error
}

// Privileges tells whether an actor may administer a guild.
type Privileges interface {
	IsPrivileged(ctx context.Context, guildID, actorID string) bool
}

// HandleGetPolicy serves GET /guilds/{guild}/policy with the effective policy,
// defaults included.
func HandleGetPolicy(policies PolicyReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := policies.Policy(r.Context(), r.PathValue("guild"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// HandlePutPolicy serves PUT /guilds/{guild}/policy. Only privileged members
// may replace a policy.
func HandlePutPolicy(store PolicyStore, policies PolicyReader, priv Privileges) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		guildID := r.PathValue("guild")
		if !priv.IsPrivileged(r.Context(), guildID, actor) {
			writeDomainError(w, domain.ErrNotAuthorized)
			return
		}

		var p domain.GuildPolicy
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		p.GuildID = guildID
		if err := store.Upsert(r.Context(), p); err != nil {
			writeDomainError(w, err)
			return
		}
		policies.Invalidate(guildID)

		effective, err := policies.Policy(r.Context(), guildID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, effective)
	}
}

// HandlePutProfile serves PUT /guilds/{guild}/profiles/{user}. Members edit
// their own profile; privileged members may edit anyone's.
func HandlePutProfile(store ProfileStore, priv Privileges) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		guildID, userID := r.PathValue("guild"), r.PathValue("user")
		if actor != userID && !priv.IsPrivileged(r.Context(), guildID, actor) {
			writeDomainError(w, domain.ErrNotAuthorized)
			return
		}

		var req profileRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		p, err := store.Profile(r.Context(), guildID, userID)
		if err != nil && !domain.Is(err, domain.KindNotFound) {
			writeDomainError(w, err)
			return
		}
		p.GuildID, p.UserID = guildID, userID
		if req.Timezone != nil {
			if *req.Timezone != "" {
				loc, err := temporal.LoadZone(*req.Timezone)
				if err != nil {
					writeDomainError(w, err)
					return
				}
				*req.Timezone = loc.String()
			}
			p.Timezone = *req.Timezone
		}
		if req.DefaultCharacterID != nil {
			p.DefaultCharacterID = *req.DefaultCharacterID
		}
		if err := store.Upsert(r.Context(), p); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profileResponse{
			GuildID:            p.GuildID,
			UserID:             p.UserID,
			Timezone:           p.Timezone,
			DefaultCharacterID: p.DefaultCharacterID,
		})
	}
}

type profileRequest struct {
	Timezone           *string `json:"timezone"`
	DefaultCharacterID *string `json:"default_character_id"`
}

type profileResponse struct {
	GuildID            string `json:"guild_id"`
	UserID             string `json:"user_id"`
	Timezone           string `json:"timezone"`
	DefaultCharacterID string `json:"default_character_id,omitempty"`
}
