package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/onnwee/reelrank/internal/upload"
	"github.com/onnwee/reelrank/internal/user"
)

func TestSignAvatar(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.signIn(t, "alice-id-token")

	resp := ts.do(t, http.MethodPost, "/uploads/avatar", alice.AccessToken,
		AvatarUploadRequest{ContentType: upload.MIMEImagePNG, SizeBytes: 2048})
	expectStatus(t, resp, http.StatusOK)
	var signed upload.SignedURLResponse
	resp.decode(t, &signed)
	if !strings.HasPrefix(signed.Key, user.AvatarPrefix(alice.User.ID)) || !strings.HasSuffix(signed.Key, ".png") {
		t.Errorf("key = %s", signed.Key)
	}
	if signed.Method != http.MethodPut || signed.Headers.ContentType != upload.MIMEImagePNG {
		t.Errorf("signed = %+v", signed)
	}

	tests := []struct {
		name     string
		body     AvatarUploadRequest
		wantCode string
	}{
		{"gif", AvatarUploadRequest{ContentType: "image/gif", SizeBytes: 10}, ErrCodeUnsupportedType},
		{"too large", AvatarUploadRequest{ContentType: upload.MIMEImageJPEG, SizeBytes: 6 << 20}, ErrCodeFileTooLarge},
		{"zero size", AvatarUploadRequest{ContentType: upload.MIMEImageJPEG}, ErrCodeValidation},
		{"missing type", AvatarUploadRequest{SizeBytes: 10}, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/uploads/avatar", alice.AccessToken, tt.body)
			expectError(t, resp, http.StatusBadRequest, tt.wantCode)
		})
	}
}

func TestSetAvatar(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := ts.signIn(t, "alice-id-token")
	bob := ts.signIn(t, "bob-id-token")

	resp := ts.do(t, http.MethodPost, "/uploads/avatar", alice.AccessToken,
		AvatarUploadRequest{ContentType: upload.MIMEImageWebP, SizeBytes: 4096})
	expectStatus(t, resp, http.StatusOK)
	var signed upload.SignedURLResponse
	resp.decode(t, &signed)

	// Not uploaded yet.
	expectError(t, ts.do(t, http.MethodPatch, "/me", alice.AccessToken, UpdateProfileRequest{AvatarKey: &signed.Key}),
		http.StatusBadRequest, ErrCodeAvatarMissing)

	ts.avatars.markUploaded(signed.Key)
	resp = ts.do(t, http.MethodPatch, "/me", alice.AccessToken, UpdateProfileRequest{AvatarKey: &signed.Key})
	expectStatus(t, resp, http.StatusOK)
	var me user.User
	resp.decode(t, &me)
	if me.AvatarKey == nil || *me.AvatarKey != signed.Key {
		t.Errorf("AvatarKey = %v", me.AvatarKey)
	}

	// Bob cannot claim Alice's object.
	expectError(t, ts.do(t, http.MethodPatch, "/me", bob.AccessToken, UpdateProfileRequest{AvatarKey: &signed.Key}),
		http.StatusBadRequest, ErrCodeValidation)

	empty := ""
	resp = ts.do(t, http.MethodPatch, "/me", alice.AccessToken, UpdateProfileRequest{AvatarKey: &empty})
	expectStatus(t, resp, http.StatusOK)
	me = user.User{}
	resp.decode(t, &me)
	if me.AvatarKey != nil {
		t.Errorf("AvatarKey = %v, want cleared", *me.AvatarKey)
	}
}

func TestAvatarUploadsDisabled(t *testing.T) {
	ts := newTestServer(t, func(cfg *RouterConfig) {
		cfg.Avatars = nil
	})
	alice := ts.signIn(t, "alice-id-token")

	expectError(t, ts.do(t, http.MethodPost, "/uploads/avatar", alice.AccessToken,
		AvatarUploadRequest{ContentType: upload.MIMEImagePNG, SizeBytes: 10}),
		http.StatusServiceUnavailable, ErrCodeUnavailable)

	key := user.AvatarPrefix(alice.User.ID) + "3f2a1c9e-5b7d-4e8f-9a0b-1c2d3e4f5a6b.png"
	expectError(t, ts.do(t, http.MethodPatch, "/me", alice.AccessToken, UpdateProfileRequest{AvatarKey: &key}),
		http.StatusServiceUnavailable, ErrCodeUnavailable)
}
