package healauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/healbridge/healauth/internal/stores"
	"github.com/healbridge/healauth/token"
)

// IssueTokens mints a fresh access/refresh pair for an authenticated
// subject. Callers reach it after VerifyLoginOTP or after their own
// credential check; it performs no directory lookup of its own.
//
// IssueTokens may return an error when input validation, dependency calls, or security checks fail.
// IssueTokens does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) IssueTokens(ctx context.Context, subjectID string, role Role) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	if strings.TrimSpace(subjectID) == "" {
		return TokenPair{}, ErrInvalidPayload
	}
	if !role.Valid() {
		return TokenPair{}, ErrInvalidRole
	}

	pair, err := e.mintPair(subjectID, role)
	if err != nil {
		e.emitAudit(ctx, auditEventTokensIssued, false, subjectID, string(role), err, nil)
		return TokenPair{}, err
	}

	e.metricInc(MetricTokensIssued)
	e.emitAudit(ctx, auditEventTokensIssued, true, subjectID, string(role), nil, nil)
	return pair, nil
}

// Authenticate validates a raw access token and returns the principal it
// carries. The revocation list is consulted before signature verification,
// so a revoked token is reported as revoked even after it expires.
//
// Authenticate may return an error when input validation, dependency calls, or security checks fail.
// Authenticate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	if e == nil {
		return Principal{}, ErrEngineNotReady
	}

	revoked, err := e.revocations.IsRevoked(ctx, accessToken)
	if err != nil {
		return Principal{}, ErrBackendUnavailable
	}
	if revoked {
		return Principal{}, ErrTokenRevoked
	}

	payload, err := e.tokens.VerifyAccess(accessToken)
	if err != nil {
		return Principal{}, mapTokenErr(err)
	}

	return Principal{
		SubjectID: payload.SubjectID,
		Role:      Role(payload.Role),
	}, nil
}

// Refresh rotates a refresh token: the presented token is verified, the
// subject's current directory record is re-checked, a new pair is minted,
// and only then is the old refresh token revoked. A rotation that cannot
// record the revocation fails rather than leave two live refresh tokens.
//
// Refresh may return an error when input validation, dependency calls, or security checks fail.
// Refresh does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	revoked, err := e.revocations.IsRevoked(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, ErrBackendUnavailable
	}
	if revoked {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventTokenRefresh, false, "", "", ErrTokenRevoked, nil)
		return TokenPair{}, ErrTokenRevoked
	}

	payload, err := e.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		mapped := mapTokenErr(err)
		e.emitAudit(ctx, auditEventTokenRefresh, false, "", "", mapped, nil)
		return TokenPair{}, mapped
	}

	role := Role(payload.Role)
	if !role.Valid() {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventTokenRefresh, false, payload.SubjectID, payload.Role, ErrInvalidRole, nil)
		return TokenPair{}, ErrInvalidRole
	}

	// Account state may have changed since the token was minted; rotation is
	// the checkpoint where deactivation and approval revocations take hold.
	user, err := e.findByID(ctx, role, payload.SubjectID)
	if err != nil && !errors.Is(err, ErrInvalidRole) {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventTokenRefresh, false, payload.SubjectID, payload.Role, ErrBackendUnavailable, nil)
		return TokenPair{}, ErrBackendUnavailable
	}
	switch {
	case errors.Is(err, ErrInvalidRole) || user == nil:
		err = ErrUserNotFound
	case !user.Active:
		err = ErrAccountInactive
	case role.ApprovalGated() && !user.Approved:
		err = ErrPendingApproval
	default:
		err = nil
	}
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventTokenRefresh, false, payload.SubjectID, payload.Role, err, nil)
		return TokenPair{}, err
	}

	pair, err := e.mintPair(payload.SubjectID, role)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventTokenRefresh, false, payload.SubjectID, payload.Role, err, nil)
		return TokenPair{}, err
	}

	now := time.Now()
	_, err = e.revocations.Revoke(ctx, refreshToken, &stores.RevokedToken{
		TokenType: string(payload.TokenType),
		SubjectID: payload.SubjectID,
		Role:      payload.Role,
		Reason:    "rotated",
		RevokedAt: now.Unix(),
		ExpiresAt: payload.ExpiresAt.Unix(),
	})
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventTokenRefresh, false, payload.SubjectID, payload.Role, ErrBackendUnavailable, nil)
		return TokenPair{}, ErrBackendUnavailable
	}

	e.metricInc(MetricRefreshSuccess)
	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEventTokenRefresh, true, payload.SubjectID, payload.Role, nil, func() map[string]string {
		return map[string]string{"rotated_jti": payload.TokenID}
	})
	return pair, nil
}

// Logout revokes whichever of the two tokens are presented. Tokens that do
// not decode are skipped silently: logout must stay idempotent and succeed
// for a client holding garbage. Revocation write failures are audited but do
// not fail the call.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	for _, raw := range []string{accessToken, refreshToken} {
		if raw == "" {
			continue
		}
		payload := e.tokens.DecodeUnsafe(raw)
		if payload == nil {
			continue
		}

		_, err := e.revocations.Revoke(ctx, raw, &stores.RevokedToken{
			TokenType: string(payload.TokenType),
			SubjectID: payload.SubjectID,
			Role:      payload.Role,
			Reason:    "logout",
			RevokedAt: time.Now().Unix(),
			ExpiresAt: payload.ExpiresAt.Unix(),
		})
		if err != nil {
			e.emitAudit(ctx, auditEventLogout, false, payload.SubjectID, payload.Role, ErrBackendUnavailable, func() map[string]string {
				return map[string]string{"token_type": string(payload.TokenType)}
			})
			continue
		}
		e.metricInc(MetricTokenRevoked)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, "", "", nil, nil)
	return nil
}

// RevocationInfo is the support-tooling view of a revocation record.
type RevocationInfo struct {
	TokenType string
	SubjectID string
	Role      Role
	Reason    string
	RevokedAt time.Time
	ExpiresAt time.Time
}

// RevocationRecord returns the stored revocation record for a raw token, or
// nil when the token has never been revoked. Intended for support tooling.
func (e *Engine) RevocationRecord(ctx context.Context, rawToken string) (*RevocationInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	record, err := e.revocations.Get(ctx, rawToken)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if record == nil {
		return nil, nil
	}
	return &RevocationInfo{
		TokenType: record.TokenType,
		SubjectID: record.SubjectID,
		Role:      Role(record.Role),
		Reason:    record.Reason,
		RevokedAt: time.Unix(record.RevokedAt, 0),
		ExpiresAt: time.Unix(record.ExpiresAt, 0),
	}, nil
}

func (e *Engine) mintPair(subjectID string, role Role) (TokenPair, error) {
	access, err := e.tokens.MintAccess(subjectID, string(role))
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := e.tokens.MintRefresh(subjectID, string(role), "")
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func mapTokenErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrWrongType):
		return ErrTokenWrongType
	case errors.Is(err, token.ErrInvalidPayload):
		return ErrInvalidPayload
	default:
		return ErrTokenMalformed
	}
}
