package chain

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
)

// URIScheme is the wallet deep-link scheme for the direct-poll variant.
const URIScheme = "solana"

// GenerateReference returns a fresh, unpredictable reference key. It is the
// public key of a throwaway keypair, so it carries a full key's worth of
// entropy and doubles as an account the wallet can attach to the transfer.
func GenerateReference() (string, error) {
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate reference key: %w", err)
	}
	return priv.PublicKey().String(), nil
}

// PaymentURI is the payment directive handed to the wallet. It must
// round-trip exactly so QR rendering and wallet consumption agree.
type PaymentURI struct {
	Recipient string
	AmountSOL float64
	Reference string
	Label     string
	Message   string
}

func (p PaymentURI) Encode() string {
	q := url.Values{}
	q.Set("amount", strconv.FormatFloat(p.AmountSOL, 'f', -1, 64))
	q.Set("reference", p.Reference)
	if p.Label != "" {
		q.Set("label", p.Label)
	}
	if p.Message != "" {
		q.Set("message", p.Message)
	}
	return fmt.Sprintf("%s:%s?%s", URIScheme, p.Recipient, q.Encode())
}

func ParsePaymentURI(raw string) (PaymentURI, error) {
	var p PaymentURI

	rest, ok := strings.CutPrefix(raw, URIScheme+":")
	if !ok {
		return p, fmt.Errorf("%w: unsupported scheme", pkgerrors.ErrInvalidInput)
	}

	recipient, query, _ := strings.Cut(rest, "?")
	if _, err := solana.PublicKeyFromBase58(recipient); err != nil {
		return p, fmt.Errorf("%w: bad recipient: %v", pkgerrors.ErrInvalidInput, err)
	}
	p.Recipient = recipient

	q, err := url.ParseQuery(query)
	if err != nil {
		return p, fmt.Errorf("%w: bad query: %v", pkgerrors.ErrInvalidInput, err)
	}
	if amt := q.Get("amount"); amt != "" {
		p.AmountSOL, err = strconv.ParseFloat(amt, 64)
		if err != nil {
			return p, fmt.Errorf("%w: bad amount: %v", pkgerrors.ErrInvalidInput, err)
		}
	}
	p.Reference = q.Get("reference")
	p.Label = q.Get("label")
	p.Message = q.Get("message")
	return p, nil
}
