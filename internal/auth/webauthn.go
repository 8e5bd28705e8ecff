// Package auth runs WebAuthn ceremonies against stored credentials.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/andyleap/identity/internal/challenge"
	"github.com/andyleap/identity/internal/models"
	"github.com/andyleap/identity/internal/storage"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

var (
	// ErrInvalidCredential covers every "this credential cannot
	// authenticate this user" case: unknown id, wrong owner, failed
	// signature.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrReplayDetected means the presented signature counter did not
	// strictly increase. Fatal for the ceremony.
	ErrReplayDetected = errors.New("replay detected")
	// ErrCredentialRegistered means the credential id is already bound,
	// to any user.
	ErrCredentialRegistered = errors.New("credential already registered")
)

// PasskeyService pairs the go-webauthn ceremony engine with the
// challenge store and persistent credential state.
type PasskeyService struct {
	webauthn   *webauthn.WebAuthn
	store      storage.Store
	challenges challenge.Store
}

func NewPasskeyService(webAuthn *webauthn.WebAuthn, store storage.Store, challenges challenge.Store) *PasskeyService {
	return &PasskeyService{
		webauthn:   webAuthn,
		store:      store,
		challenges: challenges,
	}
}

func (s *PasskeyService) webauthnUser(ctx context.Context, userID int64) (models.WebAuthnUser, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return models.WebAuthnUser{}, fmt.Errorf("load user: %w", err)
	}
	creds, err := s.store.ListCredentials(ctx, userID)
	if err != nil {
		return models.WebAuthnUser{}, fmt.Errorf("load credentials: %w", err)
	}
	return models.WebAuthnUser{User: user, Credentials: creds}, nil
}

// BeginRegistration starts a registration ceremony for an already
// authenticated user and returns the creation options plus the
// challenge key the client must echo back.
func (s *PasskeyService) BeginRegistration(ctx context.Context, userID int64) (*protocol.CredentialCreation, string, error) {
	user, err := s.webauthnUser(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(user.Credentials))
	for _, cred := range user.WebAuthnCredentials() {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
		})
	}

	options, sessionData, err := s.webauthn.BeginRegistration(
		user,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementRequired,
			UserVerification: protocol.VerificationRequired,
		}),
		webauthn.WithExclusions(exclusions),
	)
	if err != nil {
		return nil, "", fmt.Errorf("begin registration: %w", err)
	}

	key, err := s.challenges.Issue(ctx, &models.Challenge{
		Kind:   models.ChallengeRegistration,
		UserID: userID,
		Data:   sessionData,
	})
	if err != nil {
		return nil, "", fmt.Errorf("issue challenge: %w", err)
	}
	return options, key, nil
}

// FinishRegistration consumes the challenge, verifies the attestation
// response and persists the new credential. The credential id must be
// globally unique.
func (s *PasskeyService) FinishRegistration(ctx context.Context, key, label string, response *protocol.ParsedCredentialCreationData) (*models.Credential, error) {
	record, err := s.challenges.Consume(ctx, key)
	if err != nil {
		return nil, err
	}
	if record.Kind != models.ChallengeRegistration {
		return nil, challenge.ErrChallengeNotFound
	}

	user, err := s.webauthnUser(ctx, record.UserID)
	if err != nil {
		return nil, err
	}

	verified, err := s.webauthn.CreateCredential(user, *record.Data, response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	return s.persistCredential(ctx, record.UserID, label, verified)
}

// persistCredential stores a verified credential for the ceremony
// owner. The credential id is globally unique; a conflict means the
// authenticator is already registered, to any user.
func (s *PasskeyService) persistCredential(ctx context.Context, userID int64, label string, verified *webauthn.Credential) (*models.Credential, error) {
	credential := &models.Credential{
		UserID:       userID,
		Label:        label,
		CredentialID: models.EncodeCredentialID(verified.ID),
		PublicKey:    verified.PublicKey,
		SignCount:    verified.Authenticator.SignCount,
	}
	if err := s.store.CreateCredential(ctx, credential); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrCredentialRegistered
		}
		return nil, fmt.Errorf("save credential: %w", err)
	}
	return credential, nil
}

// BeginLogin starts a login ceremony for the user owning the given
// email. Lookup failures are reported as ErrInvalidCredential so the
// response does not reveal which accounts exist.
func (s *PasskeyService) BeginLogin(ctx context.Context, email string) (*protocol.CredentialAssertion, string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrInvalidCredential
		}
		return nil, "", fmt.Errorf("load user: %w", err)
	}

	creds, err := s.store.ListCredentials(ctx, user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("load credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, "", ErrInvalidCredential
	}

	waUser := models.WebAuthnUser{User: user, Credentials: creds}
	options, sessionData, err := s.webauthn.BeginLogin(waUser)
	if err != nil {
		return nil, "", fmt.Errorf("begin login: %w", err)
	}

	key, err := s.challenges.Issue(ctx, &models.Challenge{
		Kind:   models.ChallengeLogin,
		UserID: user.ID,
		Data:   sessionData,
	})
	if err != nil {
		return nil, "", fmt.Errorf("issue challenge: %w", err)
	}
	return options, key, nil
}

// FinishLogin consumes the challenge, verifies the assertion signature
// and the counter discipline, persists the advanced counter and
// returns the authenticated user id. Any rejection ends the ceremony;
// the client restarts with a fresh challenge.
func (s *PasskeyService) FinishLogin(ctx context.Context, key string, response *protocol.ParsedCredentialAssertionData) (int64, error) {
	record, err := s.challenges.Consume(ctx, key)
	if err != nil {
		return 0, err
	}
	if record.Kind != models.ChallengeLogin {
		return 0, challenge.ErrChallengeNotFound
	}

	user, err := s.webauthnUser(ctx, record.UserID)
	if err != nil {
		return 0, err
	}

	verified, err := s.webauthn.ValidateLogin(user, *record.Data, response)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	credentialID := models.EncodeCredentialID(verified.ID)
	stored, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, ErrInvalidCredential
		}
		return 0, fmt.Errorf("load credential: %w", err)
	}

	presented := response.Response.AuthenticatorData.Counter
	if err := VerifyAssertion(record, stored, presented); err != nil {
		return 0, err
	}

	if err := s.store.UpdateSignCount(ctx, credentialID, presented); err != nil {
		return 0, fmt.Errorf("advance sign count: %w", err)
	}
	return record.UserID, nil
}

// VerifyAssertion checks that the credential belongs to the challenge
// owner and that the presented counter strictly increased. Nothing is
// persisted on failure.
func VerifyAssertion(record *models.Challenge, stored *models.Credential, presented uint32) error {
	if stored == nil || stored.UserID != record.UserID {
		return ErrInvalidCredential
	}
	if presented <= stored.SignCount {
		return ErrReplayDetected
	}
	return nil
}
