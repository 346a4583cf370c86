package core

// CredentialKind selects the authentication strategy.
type CredentialKind string

const (
	CredentialNative CredentialKind = "native"
	CredentialWallet CredentialKind = "wallet"
	CredentialOAuth  CredentialKind = "oauth"
)

// Credentials is the closed set of credential variants.
type Credentials interface {
	Kind() CredentialKind
	// Identifier keys attempt counters for this credential.
	Identifier() string
}

type NativeCredentials struct {
	Login    string
	Password string
}

func (NativeCredentials) Kind() CredentialKind { return CredentialNative }

func (c NativeCredentials) Identifier() string { return c.Login }

type WalletCredentials struct {
	Address   string
	Signature string
}

func (WalletCredentials) Kind() CredentialKind { return CredentialWallet }

func (c WalletCredentials) Identifier() string { return c.Address }

type OAuthCredentials struct {
	Provider    string
	AccessToken string
}

func (OAuthCredentials) Kind() CredentialKind { return CredentialOAuth }

func (c OAuthCredentials) Identifier() string { return c.Provider }
