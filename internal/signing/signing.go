// Package signing implements timestamped HMAC-SHA256 message signatures.
//
// A signature header has the form "t=<unix seconds>,v1=<hex hmac>" where the
// HMAC covers "<unix seconds>.<raw body>". The same codec signs outbound
// notifications and verifies inbound payment events.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderName       = "X-Signature"
	DefaultTolerance = 300 * time.Second

	schemeV1 = "v1"
)

var (
	ErrMissingHeader       = errors.New("signing: missing signature header")
	ErrMalformedHeader     = errors.New("signing: malformed signature header")
	ErrTimestampOutOfRange = errors.New("signing: timestamp outside tolerance")
	ErrSignatureMismatch   = errors.New("signing: signature mismatch")
	ErrEmptySecret         = errors.New("signing: empty secret")
)

type Codec struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

type Option func(*Codec)

func WithTolerance(d time.Duration) Option {
	return func(c *Codec) {
		if d > 0 {
			c.tolerance = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

func New(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	c := &Codec{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Compute returns the hex signature of body at the given unix timestamp.
func Compute(secret []byte, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns a header value for body stamped with the current time.
func (c *Codec) Sign(body []byte) string {
	return c.SignAt(c.now().Unix(), body)
}

func (c *Codec) SignAt(timestamp int64, body []byte) string {
	return fmt.Sprintf("t=%d,%s=%s", timestamp, schemeV1, Compute(c.secret, timestamp, body))
}

// Verify checks header against body. Any one matching v1 signature is
// accepted so senders can roll secrets.
func (c *Codec) Verify(header string, body []byte) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingHeader
	}
	ts, sigs, err := ParseHeader(header)
	if err != nil {
		return err
	}
	age := c.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > c.tolerance {
		return ErrTimestampOutOfRange
	}
	expected, _ := hex.DecodeString(Compute(c.secret, ts, body))
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// ParseHeader splits a signature header into its timestamp and v1 values.
// Unknown schemes are ignored.
func ParseHeader(header string) (int64, []string, error) {
	var (
		ts    int64
		hasTS bool
		sigs  []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, nil, ErrMalformedHeader
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return 0, nil, ErrMalformedHeader
			}
			ts, hasTS = n, true
		case schemeV1:
			if v == "" {
				return 0, nil, ErrMalformedHeader
			}
			sigs = append(sigs, v)
		}
	}
	if !hasTS || len(sigs) == 0 {
		return 0, nil, ErrMalformedHeader
	}
	return ts, sigs, nil
}
