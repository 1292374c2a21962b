package crypto

import "fmt"

// Sealed holds the set of values EncryptSealed/DecryptSealed process. The
// admin store fills only the account credentials (AccessToken, Password);
// HMACSecret and SimpleToken are left empty there.
type Sealed struct {
	AccessToken string
	Password    string
	HMACSecret  string
	SimpleToken string
}

// EncryptSealed encrypts every non-empty field of s. If key is nil, s is
// returned unchanged (no-op), matching the behavior of the underlying
// Encrypt/Decrypt calls.
func EncryptSealed(s Sealed, key []byte) (Sealed, error) {
	if key == nil {
		return s, nil
	}

	var err error
	if s.AccessToken, err = Encrypt(s.AccessToken, key); err != nil {
		return s, fmt.Errorf("encrypt access_token: %w", err)
	}
	if s.Password, err = Encrypt(s.Password, key); err != nil {
		return s, fmt.Errorf("encrypt password: %w", err)
	}
	if s.HMACSecret, err = Encrypt(s.HMACSecret, key); err != nil {
		return s, fmt.Errorf("encrypt hmac_secret: %w", err)
	}
	if s.SimpleToken, err = Encrypt(s.SimpleToken, key); err != nil {
		return s, fmt.Errorf("encrypt simple_token: %w", err)
	}

	return s, nil
}

// DecryptSealed decrypts every field of s. Values without the "enc:" prefix
// pass through unchanged, so this is safe to call on mixed-origin records.
func DecryptSealed(s Sealed, key []byte) (Sealed, error) {
	if key == nil {
		return s, nil
	}

	var err error
	if s.AccessToken, err = Decrypt(s.AccessToken, key); err != nil {
		return s, fmt.Errorf("decrypt access_token: %w", err)
	}
	if s.Password, err = Decrypt(s.Password, key); err != nil {
		return s, fmt.Errorf("decrypt password: %w", err)
	}
	if s.HMACSecret, err = Decrypt(s.HMACSecret, key); err != nil {
		return s, fmt.Errorf("decrypt hmac_secret: %w", err)
	}
	if s.SimpleToken, err = Decrypt(s.SimpleToken, key); err != nil {
		return s, fmt.Errorf("decrypt simple_token: %w", err)
	}

	return s, nil
}
