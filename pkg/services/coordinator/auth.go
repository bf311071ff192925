package coordinator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/obytehq/walletsrv/pkg/storage"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/obytehq/walletsrv/pkg/werr"
)

// Credentials carry the authentication material of one request.
type Credentials struct {
	CopayerID string
	// Message is the canonical "method|url|body" serialisation the
	// signature covers.
	Message   []byte
	Signature string
	// Session is the session token, used instead of the signature when
	// set.
	Session string
	// WalletID is the explicit wallet override, honoured for support
	// staff only.
	WalletID      string
	ClientVersion string
}

// Auth is the authenticated context of a request.
type Auth struct {
	Wallet  *wallet.Wallet
	Copayer *wallet.Copayer
	// Lookup is the copayer's side-index record.
	Lookup *storage.CopayerLookup
}

// CopayerID returns the authenticated copayer's id.
func (a *Auth) CopayerID() string {
	return a.Lookup.CopayerID
}

// Authenticate verifies the request credentials and resolves the target
// wallet. Signature verification succeeds under any key of the copayer's
// request-key history; session tokens slide their expiration window on use.
func (s *Service) Authenticate(creds Credentials) (*Auth, error) {
	if err := s.checkClientVersion(creds.ClientVersion); err != nil {
		return nil, err
	}
	lookup, err := s.dao.GetCopayerLookup(creds.CopayerID)
	if err != nil {
		if storage.IsKeyNotFound(err) {
			return nil, werr.ErrCopayerNotFound
		}
		return nil, err
	}
	if creds.Session != "" {
		if err := s.checkSession(lookup.CopayerID, creds.Session); err != nil {
			return nil, err
		}
	} else if !verifyRequestKeys(lookup.RequestPubKeys, creds.Message, creds.Signature) {
		return nil, werr.ErrInvalidSignature
	}

	walletID := lookup.WalletID
	if creds.WalletID != "" && creds.WalletID != lookup.WalletID {
		if !lookup.IsSupportStaff {
			return nil, werr.ErrNotAuthorized
		}
		walletID = creds.WalletID
	}
	w, err := s.dao.GetWallet(walletID)
	if err != nil {
		if storage.IsKeyNotFound(err) {
			return nil, werr.ErrWalletNotFound
		}
		return nil, err
	}
	return &Auth{
		Wallet:  w,
		Copayer: w.CopayerByID(lookup.CopayerID),
		Lookup:  lookup,
	}, nil
}

func (s *Service) checkSession(copayerID, token string) error {
	sess, err := s.dao.GetSession(copayerID)
	if err != nil {
		if storage.IsKeyNotFound(err) {
			return werr.ErrSessionExpired
		}
		return err
	}
	now := s.clock.Now()
	if sess.ID != token || !sess.IsValid(now) {
		return werr.ErrSessionExpired
	}
	sess.Touch(now)
	return s.dao.PutSession(sess)
}

func verifyRequestKeys(keys []wallet.RequestKey, message []byte, signature string) bool {
	c := wallet.Copayer{RequestPubKeys: keys}
	return c.VerifyRequestSignature(message, signature)
}

// Login verifies the signature credentials and returns a session token. A
// still-valid session is reused, so repeated logins are idempotent.
func (s *Service) Login(creds Credentials) (string, error) {
	creds.Session = ""
	auth, err := s.Authenticate(creds)
	if err != nil {
		return "", err
	}
	now := s.clock.Now()
	sess, err := s.dao.GetSession(auth.CopayerID())
	if err == nil && sess.IsValid(now) {
		sess.Touch(now)
		return sess.ID, s.dao.PutSession(sess)
	}
	if err != nil && !storage.IsKeyNotFound(err) {
		return "", err
	}
	sess = &wallet.Session{
		ID:         uuid.NewString(),
		CopayerID:  auth.CopayerID(),
		WalletID:   auth.Wallet.ID,
		CreatedOn:  now.Unix(),
		UpdatedOn:  now.Unix(),
		Expiration: int64(s.Config.SessionExpiration.Seconds()),
	}
	return sess.ID, s.dao.PutSession(sess)
}

// Logout destroys the copayer's session.
func (s *Service) Logout(auth *Auth) error {
	err := s.dao.DeleteSession(auth.CopayerID())
	if storage.IsKeyNotFound(err) {
		return nil
	}
	return err
}

// checkClientVersion enforces the minimum supported client version. Clients
// identify as "<agent>-<major>.<minor>.<patch>"; unknown formats pass.
func (s *Service) checkClientVersion(v string) error {
	min := s.Config.MinClientVersion
	if min == "" || v == "" {
		return nil
	}
	got, ok := parseVersion(v)
	if !ok {
		return nil
	}
	want, ok := parseVersion(min)
	if !ok {
		return nil
	}
	for i := range want {
		if got[i] != want[i] {
			if got[i] < want[i] {
				return werr.ErrUpgradeNeeded
			}
			return nil
		}
	}
	return nil
}

func parseVersion(v string) ([3]int, bool) {
	if i := strings.LastIndexByte(v, '-'); i >= 0 {
		v = v[i+1:]
	}
	var out [3]int
	parts := strings.SplitN(v, ".", 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}

// verifyJoinSignature checks the wallet-creation-key signature over the
// joining copayer's declared identity.
func verifyJoinSignature(pubKeyB64, name, xPub, requestPubKey, signature string) bool {
	message := fmt.Sprintf("%s|%s|%s", name, xPub, requestPubKey)
	c := wallet.Copayer{RequestPubKeys: []wallet.RequestKey{{Key: pubKeyB64}}}
	return c.VerifyRequestSignature([]byte(message), signature)
}
