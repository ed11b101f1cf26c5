package imex

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/microcosm-cc/bluemonday"

	"github.com/mtlchat/corechat/internal/config"
	"github.com/mtlchat/corechat/internal/corerr"
	"github.com/mtlchat/corechat/internal/pgp"
)

const (
	setupCodeGroups    = 9
	setupCodeGroupSize = 4
	// setupCodeRejectAbove bounds the uint16 sample before %10000; the
	// kept range 0..60000 holds 60001 values, so group 0000 comes up 7
	// times in 60001 and every other group 6 times. The teacher's boundary generator (generateEncryptedBoundary
	// in internal/pgp/encryptor.go) already reaches for crypto/rand for
	// similar secrecy-sensitive random data.
	setupCodeRejectAbove = 60000

	preferEncryptHeader = "Autocrypt-Prefer-Encrypt"
)

// GenerateSetupCode produces a 9x4-digit passphrase ("1234-5678-...",
// spec.md §4.7's "Passphrase-Format: numeric9x4"), each group sampled by
// rejection: a uint16 above setupCodeRejectAbove is redrawn before taking
// it mod 10000, keeping every 4-digit group within [0000, 9999] and
// nearly uniform (see setupCodeRejectAbove).
func GenerateSetupCode() (string, error) {
	groups := make([]string, setupCodeGroups)
	for i := range groups {
		n, err := rejectedUint16()
		if err != nil {
			return "", err
		}
		groups[i] = fmt.Sprintf("%04d", n%10000)
	}
	return strings.Join(groups, "-"), nil
}

func rejectedUint16() (uint16, error) {
	for {
		var buf [2]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("%w: %v", corerr.ErrIO, err)
		}
		n := binary.BigEndian.Uint16(buf[:])
		if n <= setupCodeRejectAbove {
			return n, nil
		}
	}
}

// normalizeSetupCode strips every non-digit character from the user's
// entry and re-inserts a dash every 4 digits, so a transfer code can be
// typed with or without separators (spec.md §4.7).
func normalizeSetupCode(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	var out strings.Builder
	for i := 0; i < len(d); i += setupCodeGroupSize {
		end := i + setupCodeGroupSize
		if end > len(d) {
			end = len(d)
		}
		if i > 0 {
			out.WriteByte('-')
		}
		out.WriteString(d[i:end])
	}
	return out.String()
}

// RenderSetupMessage builds the Autocrypt Setup Message body for key, per
// spec.md §4.7: the private key, optionally tagged with
// Autocrypt-Prefer-Encrypt: mutual, symmetrically encrypted under a
// freshly generated setup code, armoured with Passphrase-Format and
// Passphrase-Begin headers, and wrapped in an HTML envelope whose
// setup-code-less prose is sanitized before embedding.
func RenderSetupMessage(key *SelfKey, preferEncryptMutual bool) (htmlBody, setupCode string, err error) {
	setupCode, err = GenerateSetupCode()
	if err != nil {
		return "", "", err
	}

	var plain strings.Builder
	if preferEncryptMutual {
		fmt.Fprintf(&plain, "%s: mutual\n\n", preferEncryptHeader)
	}
	plain.WriteString(key.PrivateArmored)

	var encrypted strings.Builder
	headers := map[string]string{
		"Passphrase-Format": "numeric9x4",
		"Passphrase-Begin":  setupCode[:2],
	}
	w, err := armor.Encode(&encrypted, "PGP MESSAGE", headers)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}
	plaintextWriter, err := openpgp.SymmetricallyEncrypt(w, []byte(setupCode), nil, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}
	if _, err := io.WriteString(plaintextWriter, plain.String()); err != nil {
		return "", "", fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}
	if err := plaintextWriter.Close(); err != nil {
		return "", "", fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}
	if err := w.Close(); err != nil {
		return "", "", fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}

	prose := bluemonday.UGCPolicy().Sanitize(
		"This message contains your end-to-end setup. To decrypt and use your " +
			"setup, open it on another device and enter the setup code presented " +
			"on the device that created it.")

	var out strings.Builder
	out.WriteString("<!DOCTYPE html><html><body>")
	out.WriteString("<p>" + prose + "</p>")
	out.WriteString("<pre>")
	out.WriteString(html.EscapeString(encrypted.String()))
	out.WriteString("</pre>")
	out.WriteString("</body></html>")

	return out.String(), setupCode, nil
}

// ContinueKeyTransfer installs the private key carried by an Autocrypt
// Setup Message. It re-normalises enteredCode, extracts and decrypts the
// armoured block embedded in htmlBody, deletes any self key sharing
// either fingerprint half with the recovered key, clears every existing
// default, installs the new key as the default, and, when the message
// requested mutual Autocrypt-Prefer-Encrypt, enables end-to-end
// encryption in cfg (if cfg is non-nil).
func ContinueKeyTransfer(keys *KeyStore, cfg *config.Store, enteredCode, htmlBody string) (*SelfKey, error) {
	code := normalizeSetupCode(enteredCode)

	armored := extractArmoredBlock(htmlBody)
	if armored == "" {
		return nil, fmt.Errorf("%w: no encrypted block found in setup message", corerr.ErrDecode)
	}

	block, err := armor.Decode(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", corerr.ErrDecode, err)
	}

	prompt := func(_ []openpgp.Key, symmetric bool) ([]byte, error) {
		if !symmetric {
			return nil, fmt.Errorf("setup message is not symmetrically encrypted")
		}
		return []byte(code), nil
	}
	md, err := openpgp.ReadMessage(block.Body, nil, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: incorrect setup code or corrupt message: %v", corerr.ErrDecode, err)
	}
	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", corerr.ErrDecode, err)
	}

	content := string(plaintext)
	preferMutual := false
	if rest, ok := strings.CutPrefix(content, preferEncryptHeader+": mutual\n\n"); ok {
		preferMutual = true
		content = rest
	}

	entities, err := pgp.ParseArmoredKey(content)
	if err != nil {
		return nil, fmt.Errorf("%w: recovered key did not parse: %v", corerr.ErrDecode, err)
	}
	entity := entities[0]

	privateArmored := content
	publicArmored, err := pgp.ArmorPublicKey(entity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}

	fp := pgp.KeyFingerprint(entity)
	if err := keys.DeleteByFingerprintHalf(fp); err != nil {
		return nil, err
	}

	installed, err := keys.Save(pgp.ExtractEmailFromKey(entity), publicArmored, privateArmored)
	if err != nil {
		return nil, err
	}
	if err := keys.SetDefault(installed.ID); err != nil {
		return nil, err
	}

	if preferMutual && cfg != nil {
		if err := cfg.SetE2EEEnabled(true); err != nil {
			return nil, err
		}
	}

	return installed, nil
}

// extractArmoredBlock pulls the "-----BEGIN PGP MESSAGE-----" ...
// "-----END PGP MESSAGE-----" block back out of the HTML envelope's
// escaped <pre> section.
func extractArmoredBlock(htmlBody string) string {
	unescaped := html.UnescapeString(htmlBody)
	start := strings.Index(unescaped, "-----BEGIN PGP MESSAGE-----")
	if start == -1 {
		return ""
	}
	end := strings.Index(unescaped[start:], "-----END PGP MESSAGE-----")
	if end == -1 {
		return ""
	}
	end += start + len("-----END PGP MESSAGE-----")
	return unescaped[start:end]
}
