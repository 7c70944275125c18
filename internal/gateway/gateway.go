// Package gateway builds signed payment requests for a VNPAY-compatible
// gateway and verifies the signatures it sends back.
package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	version    = "2.1.0"
	command    = "pay"
	currency   = "VND"
	locale     = "vn"
	orderType  = "other"
	expireTTL  = 15 * time.Minute
	timeFormat = "20060102150405"

	ParamSecureHash     = "vnp_SecureHash"
	ParamSecureHashType = "vnp_SecureHashType"
	ParamTxnRef         = "vnp_TxnRef"
	ParamAmount         = "vnp_Amount"
	ParamResponseCode   = "vnp_ResponseCode"
	ParamTxnStatus      = "vnp_TransactionStatus"
	ParamTxnNo          = "vnp_TransactionNo"
	ParamBankCode       = "vnp_BankCode"
	ParamCardType       = "vnp_CardType"
	ParamPayDate        = "vnp_PayDate"
	ParamOrderInfo      = "vnp_OrderInfo"

	// CodeSuccess is the gateway's "approved" code for both the response
	// code and the transaction status.
	CodeSuccess = "00"
)

type Adapter struct {
	payURL  string
	tmnCode string
	secret  string
	loc     *time.Location

	// now is swappable in tests
	now func() time.Time
}

func New(payURL, tmnCode, secret, timezone string) (*Adapter, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("gateway timezone: %w", err)
	}
	return &Adapter{payURL: payURL, tmnCode: tmnCode, secret: secret, loc: loc, now: time.Now}, nil
}

// BuildPaymentURL serializes a payment request for amount (VND) under the
// given reference code. The gateway wants the amount x100 and a keyed hash
// over the sorted parameter set.
func (a *Adapter) BuildPaymentURL(amount int64, txnRef, returnURL, clientIP string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("amount must be > 0, got %d", amount)
	}
	if txnRef == "" {
		return "", fmt.Errorf("empty txn ref")
	}
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	now := a.now().In(a.loc)
	params := map[string]string{
		"vnp_Version":    version,
		"vnp_Command":    command,
		"vnp_TmnCode":    a.tmnCode,
		ParamAmount:      fmt.Sprintf("%d", amount*100),
		"vnp_CurrCode":   currency,
		ParamTxnRef:      txnRef,
		ParamOrderInfo:   "Thanh toan don hang:" + txnRef,
		"vnp_OrderType":  orderType,
		"vnp_Locale":     locale,
		"vnp_ReturnUrl":  returnURL,
		"vnp_IpAddr":     clientIP,
		"vnp_CreateDate": now.Format(timeFormat),
		"vnp_ExpireDate": now.Add(expireTTL).Format(timeFormat),
	}

	hashData, query := canonicalize(params)
	sig := a.sign(hashData)
	return a.payURL + "?" + query + "&" + ParamSecureHash + "=" + sig, nil
}

// VerifyCallback recomputes the signature over the callback parameters
// (minus the signature fields) and compares. Fails closed.
func (a *Adapter) VerifyCallback(params map[string]string) bool {
	received := params[ParamSecureHash]
	if received == "" {
		return false
	}
	filtered := make(map[string]string, len(params))
	for k, v := range params {
		if k == ParamSecureHash || k == ParamSecureHashType {
			continue
		}
		filtered[k] = v
	}
	hashData, _ := canonicalize(filtered)
	expected := a.sign(hashData)
	return hmac.Equal([]byte(strings.ToLower(received)), []byte(expected))
}

// canonicalize sorts parameter names and returns both the hash input
// (raw names, encoded values) and the query string (both encoded). Empty
// values are skipped. Matches the gateway's reference implementation.
func canonicalize(params map[string]string) (hashData, query string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hashParts := make([]string, 0, len(keys))
	queryParts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := params[k]
		if v == "" {
			continue
		}
		encValue := url.QueryEscape(v)
		hashParts = append(hashParts, k+"="+encValue)
		queryParts = append(queryParts, url.QueryEscape(k)+"="+encValue)
	}
	return strings.Join(hashParts, "&"), strings.Join(queryParts, "&")
}

func (a *Adapter) sign(hashData string) string {
	mac := hmac.New(sha512.New, []byte(a.secret))
	mac.Write([]byte(hashData))
	return hex.EncodeToString(mac.Sum(nil))
}
