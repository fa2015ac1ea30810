package service

import (
	"time"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/pkg/validator"
)

func (s *serviceSuite) TestRegisterAssignsDefaults() {
	user := s.register("alice")

	s.Equal("alice", user.Username)
	s.Equal("alice", user.DisplayName)
	s.Equal(defaultBio, user.Bio)
	s.Contains(AvatarPalette, user.AvatarColor)
	s.True(user.NotificationsEnabled)
	s.False(user.IsAdmin)
}

func (s *serviceSuite) TestRegisterRejectsDuplicates() {
	s.register("alice")

	_, err := s.env.auth.Register(s.ctx, RegisterInput{Email: "other@example.com", Username: "@ALICE", Password: testPassword})
	s.ErrorIs(err, ErrUsernameTaken)
	s.ErrorIs(err, ErrAlreadyExists)

	_, err = s.env.auth.Register(s.ctx, RegisterInput{Email: "Alice@Example.com", Username: "alice2", Password: testPassword})
	s.ErrorIs(err, ErrEmailTaken)

	// The failed attempts must not leave a credential behind.
	cred, err := s.env.store.Credentials().GetByEmail(s.ctx, "other@example.com")
	s.Require().NoError(err)
	s.Nil(cred)
}

func (s *serviceSuite) TestRegisterValidates() {
	_, err := s.env.auth.Register(s.ctx, RegisterInput{Email: "nope", Username: "x", Password: "short"})
	var verrs validator.ValidationErrors
	s.Require().ErrorAs(err, &verrs)
	s.Contains(verrs, "email")
	s.Contains(verrs, "username")
	s.Contains(verrs, "password")
}

func (s *serviceSuite) TestLogin() {
	alice := s.register("alice")

	resp, err := s.env.auth.Login(s.ctx, LoginInput{Email: "ALICE@example.com", Password: testPassword})
	s.Require().NoError(err)
	s.Equal(alice.ID, resp.User.ID)

	claims, err := s.env.auth.ParseToken(resp.AccessToken)
	s.Require().NoError(err)
	s.Equal(alice.ID, claims.UserID)

	_, err = s.env.auth.Login(s.ctx, LoginInput{Email: "alice@example.com", Password: "Wrong1234"})
	s.ErrorIs(err, ErrInvalidCreds)

	_, err = s.env.auth.Login(s.ctx, LoginInput{Email: "ghost@example.com", Password: testPassword})
	s.ErrorIs(err, ErrInvalidCreds)
	s.ErrorIs(err, ErrNotFound)
}

func (s *serviceSuite) TestLoginBannedUser() {
	bob := s.register("bob")
	_, err := s.env.store.Users().SetBanned(s.ctx, bob.ID, true)
	s.Require().NoError(err)

	_, err = s.env.auth.Login(s.ctx, LoginInput{Email: "bob@example.com", Password: testPassword})
	s.ErrorIs(err, ErrBanned)

	// The record itself is left alone.
	stored, err := s.env.store.Users().GetByID(s.ctx, bob.ID)
	s.Require().NoError(err)
	s.True(stored.IsBanned)
}

func (s *serviceSuite) TestLoginRecoversMissingProfile() {
	hash, err := hashPassword(testPassword)
	s.Require().NoError(err)
	s.Require().NoError(s.env.store.Credentials().Create(s.ctx, &domain.Credential{
		UserID:       "orphan-id",
		Email:        "carol@example.com",
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}))

	resp, err := s.env.auth.Login(s.ctx, LoginInput{Email: "carol@example.com", Password: testPassword})
	s.Require().NoError(err)
	s.Equal("orphan-id", resp.User.ID)
	s.Equal("carol", resp.User.Username)
	s.Equal(recoveredBio, resp.User.Bio)

	// A second login finds the recovered profile.
	again, err := s.env.auth.Login(s.ctx, LoginInput{Email: "carol@example.com", Password: testPassword})
	s.Require().NoError(err)
	s.Equal(resp.User.Username, again.User.Username)
}

func (s *serviceSuite) TestLoginRestoresAdminFlag() {
	root := s.admin()
	_, err := s.env.store.Users().SetAdmin(s.ctx, root.ID, false)
	s.Require().NoError(err)

	resp, err := s.env.auth.Login(s.ctx, LoginInput{Email: "root@example.com", Password: testPassword})
	s.Require().NoError(err)
	s.True(resp.User.IsAdmin)

	stored, err := s.env.store.Users().GetByID(s.ctx, root.ID)
	s.Require().NoError(err)
	s.True(stored.IsAdmin)
}

func (s *serviceSuite) TestLogoutRevokesTokenAndGoesOffline() {
	s.register("alice")
	resp, err := s.env.auth.Login(s.ctx, LoginInput{Email: "alice@example.com", Password: testPassword})
	s.Require().NoError(err)
	claims, err := s.env.auth.ParseToken(resp.AccessToken)
	s.Require().NoError(err)

	closed := make(chan struct{})
	_, err = s.env.presence.ConnectToken(s.ctx, claims.UserID, claims.TokenID, func() { close(closed) })
	s.Require().NoError(err)

	s.Require().NoError(s.env.auth.Logout(s.ctx, claims))

	_, err = s.env.auth.ParseToken(resp.AccessToken)
	s.ErrorIs(err, ErrInvalidToken)
	s.Eventually(func() bool {
		select {
		case <-closed:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	p, err := s.env.presence.Get(s.ctx, claims.UserID)
	s.Require().NoError(err)
	s.False(p.IsOnline)
	s.NotNil(p.LastSeen)
}

func (s *serviceSuite) TestLogoutEndsOnlyThatLogin() {
	s.register("alice")
	login := func() Claims {
		resp, err := s.env.auth.Login(s.ctx, LoginInput{Email: "alice@example.com", Password: testPassword})
		s.Require().NoError(err)
		claims, err := s.env.auth.ParseToken(resp.AccessToken)
		s.Require().NoError(err)
		return claims
	}
	laptop, phone := login(), login()
	s.Require().NotEqual(laptop.TokenID, phone.TokenID)

	laptopClosed := make(chan struct{})
	phoneClosed := make(chan struct{})
	_, err := s.env.presence.ConnectToken(s.ctx, laptop.UserID, laptop.TokenID, func() { close(laptopClosed) })
	s.Require().NoError(err)
	_, err = s.env.presence.ConnectToken(s.ctx, phone.UserID, phone.TokenID, func() { close(phoneClosed) })
	s.Require().NoError(err)

	s.Require().NoError(s.env.auth.Logout(s.ctx, laptop))

	s.Eventually(func() bool {
		select {
		case <-laptopClosed:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	select {
	case <-phoneClosed:
		s.Fail("phone session was closed by the laptop logout")
	default:
	}
	s.Equal(1, s.env.presence.SessionCount(laptop.UserID))

	p, err := s.env.presence.Get(s.ctx, laptop.UserID)
	s.Require().NoError(err)
	s.True(p.IsOnline)
}

func (s *serviceSuite) TestParseTokenRejectsGarbage() {
	_, err := s.env.auth.ParseToken("not-a-token")
	s.ErrorIs(err, ErrInvalidToken)
}

func (s *serviceSuite) TestFindUsers() {
	alice := s.register("alice")
	s.register("Alicia")
	s.register("bob")

	found, err := s.env.auth.FindUsers(s.ctx, alice.ID, "@ALI")
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal("Alicia", found[0].Username)

	found, err = s.env.auth.FindUsers(s.ctx, alice.ID, "  ")
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *serviceSuite) TestUpdateProfile() {
	alice := s.register("alice")
	name := "Alice A."
	off := false
	color := "#3B82F6"

	updated, err := s.env.auth.UpdateProfile(s.ctx, alice.ID, UpdateProfileInput{
		DisplayName:          &name,
		AvatarColor:          &color,
		NotificationsEnabled: &off,
	})
	s.Require().NoError(err)
	s.Equal(name, updated.DisplayName)
	s.Equal(color, updated.AvatarColor)
	s.False(updated.NotificationsEnabled)

	bad := "blue"
	_, err = s.env.auth.UpdateProfile(s.ctx, alice.ID, UpdateProfileInput{AvatarColor: &bad})
	var verrs validator.ValidationErrors
	s.ErrorAs(err, &verrs)

	_, err = s.env.auth.UpdateProfile(s.ctx, "ghost", UpdateProfileInput{DisplayName: &name})
	s.ErrorIs(err, ErrUserNotFound)
}
