package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURLSignerSignAndVerify(t *testing.T) {
	signer := NewURLSigner("secret")
	token, err := signer.Sign("Schools/s1/Attachments/policy.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	path, err := signer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "Schools/s1/Attachments/policy.pdf", path)
}

func TestURLSignerRejectsForeignSecret(t *testing.T) {
	token, err := NewURLSigner("secret").Sign("Teachers/u1/ProfilePicture/profilePic.jpg")
	require.NoError(t, err)

	_, err = NewURLSigner("other").Verify(token)
	require.Error(t, err)

	_, err = NewURLSigner("secret").Verify("garbage")
	require.Error(t, err)
}

func TestURLSignerRequiresSecret(t *testing.T) {
	_, err := NewURLSigner("").Sign("a/b")
	require.Error(t, err)

	_, err = NewURLSigner("").Verify(forgeUnkeyedToken("Schools/s1/Attachments/policy.pdf"))
	require.Error(t, err)
}

func forgeUnkeyedToken(objectPath string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(objectPath))
	mac := hmac.New(sha256.New, nil)
	_, _ = mac.Write([]byte("blob|" + encoded))
	return encoded + "." + hex.EncodeToString(mac.Sum(nil))
}
