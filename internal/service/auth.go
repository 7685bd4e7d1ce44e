// Package service contains the business logic layer of the application.
//
// AuthService answers one question for the HTTP layer: given a provider
// access token, which local user is it, and is there a session token for it
// now? It sits between the handler and its three collaborators:
//
//	AuthHandler (HTTP) → AuthService → TokenRepository   (session tokens)
//	                                 ↘ IdentityResolver  (provider lookup)
//	                                 ↘ UserRepository    (users, purchases)
//
// Every collaborator is an interface so tests can swap in fakes.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/backchat/internal/apperror"
	"github.com/sakif/backchat/internal/auth"
	"github.com/sakif/backchat/internal/metrics"
	"github.com/sakif/backchat/internal/model"
	"github.com/sakif/backchat/internal/repository"
)

// IdentityResolver asks an external provider who an access token belongs to.
// *auth.Resolver is the production implementation.
type IdentityResolver interface {
	Resolve(ctx context.Context, provider auth.Provider, accessToken string) (*auth.Identity, error)
}

// AuthService is the reconciliation engine.
//
// It holds no locks across steps. Two concurrent first requests for the same
// identity can both miss every lookup; the store's unique constraints turn the
// loser's write into apperror.ErrConflict, which is handled below.
type AuthService struct {
	users    repository.UserRepository
	tokens   repository.TokenRepository
	resolver IdentityResolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewAuthService wires the engine. m may be nil.
func NewAuthService(
	users repository.UserRepository,
	tokens repository.TokenRepository,
	resolver IdentityResolver,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		tokens:   tokens,
		resolver: resolver,
		metrics:  m,
		logger:   logger,
	}
}

// AuthenticateOrReuse returns the projection of the user behind accessToken,
// guaranteeing a session token row exists for it afterwards.
//
// The steps run strictly in order and stop at the first failure:
//
//	CheckToken → ResolveIdentity → MatchOrCreateUser → ReconcileEmail → InsertToken
//
// A token already on record short-circuits after CheckToken without calling
// the provider. providerName is only consulted on a miss.
//
// WHY CHECK THE TOKEN BEFORE THE PROVIDER?
// Clients send the same token on every launch. Answering from the store keeps
// the provider's rate limit for tokens we have never seen, and lets a known
// token work even while the provider is unreachable.
//
// WHY NO LOCKS?
// A lock held across an HTTP call to the provider would serialise every
// sign-in. Races are rare and the store's unique constraints already detect
// them, so the losing request recovers instead of waiting.
func (s *AuthService) AuthenticateOrReuse(ctx context.Context, providerName, accessToken string) (*model.UserProjection, error) {
	user, outcome, err := s.authenticate(ctx, providerName, accessToken)
	s.metrics.Authentication(outcome)
	return user, err
}

func (s *AuthService) authenticate(ctx context.Context, providerName, accessToken string) (*model.UserProjection, string, error) {
	if accessToken == "" {
		return nil, metrics.OutcomeInvalidToken, apperror.ValidationFailed("access_token", "invalid access_token")
	}
	log := s.logger.With(slog.String("token_prefix", tokenPrefix(accessToken)))

	// --- CheckToken ---
	userID, ok, err := s.tokens.FindUserByToken(ctx, accessToken)
	if err != nil {
		return nil, metrics.OutcomeError, s.storeFailure(log, "finding token", err)
	}
	if ok {
		user, err := s.users.LoadProjection(ctx, userID)
		if errors.Is(err, apperror.ErrNotFound) {
			// The token points at a user that no longer exists.
			log.Warn("token references missing user", slog.Int64("user_id", userID))
			return nil, metrics.OutcomeInvalidToken, apperror.InvalidAccessToken(err)
		}
		if err != nil {
			return nil, metrics.OutcomeError, s.storeFailure(log, "loading user", err, slog.Int64("user_id", userID))
		}
		log.Info("existing token", slog.Int64("user_id", userID))
		return user, metrics.OutcomeReused, nil
	}

	// --- ResolveIdentity ---
	provider, ok := auth.ParseProvider(providerName)
	if !ok {
		log.Info("invalid provider", slog.String("provider", providerName))
		return nil, metrics.OutcomeInvalidProvider, apperror.InvalidProvider()
	}

	identity, err := s.resolver.Resolve(ctx, provider, accessToken)
	if err != nil {
		log.Info("identity resolution failed",
			slog.String("provider", provider.String()),
			slog.String("error", err.Error()),
		)
		return nil, metrics.OutcomeInvalidToken, apperror.InvalidAccessToken(err)
	}
	log = log.With(
		slog.String("id_type", string(identity.IDType)),
		slog.String("id_value", identity.IDValue),
		slog.String("email", identity.Email),
	)

	// --- MatchOrCreateUser / ReconcileEmail ---
	user, outcome, err := s.matchOrCreate(ctx, log, identity)
	if err != nil {
		return nil, outcome, err
	}

	// --- InsertToken ---
	if err := s.insertToken(ctx, log, accessToken, user.ID); err != nil {
		return nil, metrics.OutcomeError, err
	}
	return user, outcome, nil
}

// matchOrCreate finds the user for identity, by provider id first and email
// second, or creates one.
//
// WHY PROVIDER ID BEFORE EMAIL?
// The provider id never changes for a given account; an email can be edited
// or reused. An account already linked to this exact identity therefore wins
// over another account that merely shares the email. Email matching exists so
// that signing in with Google after Facebook lands on the same user.
func (s *AuthService) matchOrCreate(ctx context.Context, log *slog.Logger, identity *auth.Identity) (*model.UserProjection, string, error) {
	log.Debug("searching")

	userID, ok, err := s.users.FindByExternalID(ctx, identity.IDType, identity.IDValue)
	if err != nil {
		return nil, metrics.OutcomeError, s.storeFailure(log, "finding user by identity", err)
	}
	if ok {
		user, err := s.reconcile(ctx, log, userID, identity)
		if err != nil {
			return nil, metrics.OutcomeError, err
		}
		return user, metrics.OutcomeMatchedIdentity, nil
	}

	if identity.Email != "" {
		userID, ok, err = s.users.FindByEmail(ctx, identity.Email)
		if err != nil {
			return nil, metrics.OutcomeError, s.storeFailure(log, "finding user by email", err)
		}
		if ok {
			user, err := s.reconcile(ctx, log, userID, identity)
			if err != nil {
				return nil, metrics.OutcomeError, err
			}
			return user, metrics.OutcomeMatchedEmail, nil
		}
	}

	userID, err = s.users.CreateUser(ctx, identity.IDType, identity.IDValue, identity.Email)
	if errors.Is(err, apperror.ErrConflict) {
		// Another request linked this identity first. Look once more and
		// join that account.
		userID, ok, ferr := s.users.FindByExternalID(ctx, identity.IDType, identity.IDValue)
		if ferr != nil || !ok {
			return nil, metrics.OutcomeError, s.storeFailure(log, "creating user", err)
		}
		log.Info("lost user creation race", slog.Int64("user_id", userID))
		user, err := s.reconcile(ctx, log, userID, identity)
		if err != nil {
			return nil, metrics.OutcomeError, err
		}
		return user, metrics.OutcomeMatchedIdentity, nil
	}
	if err != nil {
		return nil, metrics.OutcomeError, s.storeFailure(log, "creating user", err)
	}

	log.Info("new user", slog.Int64("user_id", userID))
	user := model.NewUserProjection(userID)
	return &user, metrics.OutcomeCreated, nil
}

// reconcile links identity to an existing user, refreshes the email when the
// provider reported one, and reads the user back.
func (s *AuthService) reconcile(ctx context.Context, log *slog.Logger, userID int64, identity *auth.Identity) (*model.UserProjection, error) {
	log.Info("matched user", slog.Int64("user_id", userID))

	if err := s.users.UpdateIdentity(ctx, userID, identity.IDType, identity.IDValue, identity.Email); err != nil {
		return nil, s.storeFailure(log, "updating user identity", err, slog.Int64("user_id", userID))
	}

	user, err := s.users.LoadProjection(ctx, userID)
	if err != nil {
		return nil, s.storeFailure(log, "loading user", err, slog.Int64("user_id", userID))
	}
	return user, nil
}

// insertToken records the session token. If a concurrent request already
// stored the same token for the same user, that row is as good as ours.
func (s *AuthService) insertToken(ctx context.Context, log *slog.Logger, accessToken string, userID int64) error {
	err := s.tokens.InsertToken(ctx, accessToken, userID)
	if err == nil {
		return nil
	}

	if errors.Is(err, apperror.ErrConflict) {
		existing, ok, ferr := s.tokens.FindUserByToken(ctx, accessToken)
		if ferr == nil && ok && existing == userID {
			log.Info("token inserted concurrently", slog.Int64("user_id", userID))
			return nil
		}
	}
	return s.storeFailure(log, "inserting token", err, slog.Int64("user_id", userID))
}

// LookupSession returns the user an already-issued access token belongs to.
// It never calls a provider; an unknown token is ErrInvalidAccessToken.
func (s *AuthService) LookupSession(ctx context.Context, accessToken string) (int64, error) {
	if accessToken == "" {
		return 0, apperror.InvalidAccessToken(nil)
	}
	log := s.logger.With(slog.String("token_prefix", tokenPrefix(accessToken)))

	userID, ok, err := s.tokens.FindUserByToken(ctx, accessToken)
	if err != nil {
		return 0, s.storeFailure(log, "finding token", err)
	}
	if !ok {
		return 0, apperror.InvalidAccessToken(nil)
	}
	return userID, nil
}

// GetUser returns the current projection of userID.
func (s *AuthService) GetUser(ctx context.Context, userID int64) (*model.UserProjection, error) {
	user, err := s.users.LoadProjection(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, s.storeFailure(s.logger, "loading user", err, slog.Int64("user_id", userID))
	}
	return user, nil
}

// storeFailure logs a failed store call and converts it into the error the
// caller sees. Integrity violations pass through unchanged and are logged at
// error level with their own message.
func (s *AuthService) storeFailure(log *slog.Logger, operation string, err error, attrs ...any) error {
	args := append([]any{slog.String("operation", operation), slog.String("error", err.Error())}, attrs...)

	if errors.Is(err, apperror.ErrDataCorruption) {
		log.Error("data integrity violation", args...)
		return err
	}
	log.Error("store operation failed", args...)
	return apperror.Persistence(operation, err)
}

// tokenPrefix returns enough of a token to correlate log lines without
// writing the credential itself.
func tokenPrefix(tok string) string {
	const n = 8
	if len(tok) <= n {
		return tok[:len(tok)/2]
	}
	return tok[:n]
}
