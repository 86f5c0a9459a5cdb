package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/AKPAING3147/Foood/internal/order/domain"
	"github.com/AKPAING3147/Foood/internal/store/memstore"
)

func newTestService() *Service {
	return NewService(memstore.New(), "test-secret", time.Hour, WithBcryptCost(bcrypt.MinCost))
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Email: " Ann@Example.com ", Password: "correct-horse", Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", u.Email)
	assert.NotEqual(t, "correct-horse", u.PasswordHash)

	token, got, err := svc.Login(ctx, domain.RoleCustomer, "ann@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	p, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.UserID)
	assert.Equal(t, domain.RoleCustomer, p.Role)
	assert.False(t, p.IsAdmin())
}

func TestRegister_Validation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "", Password: "long-enough", Name: "A"})
	assert.ErrorIs(t, err, domain.ErrMissingFields)
	_, err = svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: "long-enough", Name: "A"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Register(ctx, RegisterInput{Email: "a@b.co", Password: "short", Name: "A"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Register(ctx, RegisterInput{Email: "a@b.co", Password: "long-enough"})
	assert.ErrorIs(t, err, domain.ErrMissingFields)

	_, err = svc.Register(ctx, RegisterInput{Email: "a@b.co", Password: "long-enough", Name: "A"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{Email: "A@B.co", Password: "long-enough", Name: "A"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestLogin_Rejections(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Email: "a@b.co", Password: "long-enough", Name: "A"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, domain.RoleCustomer, "a@b.co", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
	_, _, err = svc.Login(ctx, domain.RoleCustomer, "nobody@b.co", "long-enough")
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
	_, _, err = svc.Login(ctx, domain.RoleAdmin, "a@b.co", "long-enough")
	assert.ErrorIs(t, err, domain.ErrInvalidCredential, "customer accounts cannot log in as admin")
}

func TestSeedAdmin(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.SeedAdmin(ctx, "admin@foood.test", "first-password", "")
	require.NoError(t, err)
	_, err = svc.SeedAdmin(ctx, "admin@foood.test", "second-password", "")
	require.NoError(t, err)

	token, u, err := svc.Login(ctx, domain.RoleAdmin, "admin@foood.test", "second-password")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, u.Role)
	p, err := svc.Parse(token)
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
}

func TestParse_Rejects(t *testing.T) {
	svc := newTestService()
	u := &domain.User{ID: "u-1", Email: "a@b.co", Role: domain.RoleCustomer}

	other := NewService(memstore.New(), "other-secret", time.Hour)
	forged, err := other.Issue(u)
	require.NoError(t, err)
	_, err = svc.Parse(forged)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	past := NewService(memstore.New(), "test-secret", time.Minute, WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))
	expired, err := past.Issue(u)
	require.NoError(t, err)
	_, err = svc.Parse(expired)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: domain.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1", Issuer: issuer}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Parse(unsigned)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.Parse("garbage")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken("Bearer "))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), &Principal{UserID: "u-1"})
	p, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u-1", p.UserID)
}
