package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"code.aegisid.org/golang/internal/transport"
)

const defaultCallTimeout = 30 * time.Second

var cborSrz = transport.WrapInSafeSerializer(transport.CBORSerializer{})

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient implements Client over cbor HTTP POST exchanges.
type HTTPClient struct {
	BaseUrl string
	HC      httpClient    // defaults to http.DefaultClient
	Timeout time.Duration // per call, 0 selects defaultCallTimeout
}

// NewHTTPClient returns an HTTPClient targeting baseUrl.
// It errors if baseUrl is not a valid http(s) url.
func NewHTTPClient(baseUrl string) (*HTTPClient, error) {
	u, err := url.Parse(baseUrl)
	if nil != err {
		return nil, wrapError(err, "invalid baseUrl")
	}
	if !slices.Contains([]string{"http", "https"}, u.Scheme) {
		return nil, newError("invalid baseUrl scheme %s", u.Scheme)
	}

	return &HTTPClient{BaseUrl: baseUrl}, nil
}

// RegisterClient implements Client.
func (self *HTTPClient) RegisterClient(ctx context.Context, reg ClientRegistration) error {
	return self.post(ctx, "/oob/clients", reg, nil)
}

// UnregisterClient implements Client.
func (self *HTTPClient) UnregisterClient(ctx context.Context, clientId string) error {
	return self.post(ctx, "/oob/clients/unregister", clientRef{ClientId: clientId}, nil)
}

// RegisterOOB implements Client.
func (self *HTTPClient) RegisterOOB(ctx context.Context, reg OobRegistration) (OobRegistrationResponse, error) {
	resp := OobRegistrationResponse{}
	err := self.post(ctx, "/oob/registrations", reg, &resp)

	return resp, err
}

// UnregisterOOB implements Client.
func (self *HTTPClient) UnregisterOOB(ctx context.Context, clientId string) error {
	return self.post(ctx, "/oob/registrations/unregister", clientRef{ClientId: clientId}, nil)
}

// CreateToken implements Client.
func (self *HTTPClient) CreateToken(ctx context.Context, req TokenRequest) (TokenGrant, error) {
	grant := TokenGrant{}
	err := self.post(ctx, "/tokens", req, &grant)

	return grant, err
}

// DestroyToken implements Client.
func (self *HTTPClient) DestroyToken(ctx context.Context, deviceId []byte) error {
	return self.post(ctx, "/tokens/destroy", deviceRef{DeviceId: deviceId}, nil)
}

// SubmitDecision implements Client.
func (self *HTTPClient) SubmitDecision(ctx context.Context, dec DecisionSubmission) error {
	return self.post(ctx, "/decisions", dec, nil)
}

// FetchMessages implements Client.
func (self *HTTPClient) FetchMessages(ctx context.Context, clientId string) ([]QueuedMessage, error) {
	batch := messageBatch{}
	err := self.post(ctx, "/messages/fetch", clientRef{ClientId: clientId}, &batch)
	if nil != err {
		return nil, err
	}

	// validate each message, a single bad entry poisons the whole batch
	for pos, msg := range batch.Messages {
		err = msg.Check()
		if nil != err {
			return nil, wrapError(ErrMalformed, "Messages[%d] invalid, Check returned %v", pos, err)
		}
	}

	return batch.Messages, nil
}

// clientRef addresses an OOB client in unregister/fetch requests.
type clientRef struct {
	ClientId string `json:"cId" cbor:"1,keyasint"`
}

// Check returns an error if the clientRef is invalid.
func (self clientRef) Check() error {
	if "" == self.ClientId {
		return wrapError(ErrMalformed, "empty ClientId")
	}

	return nil
}

// deviceRef addresses a token by its device binding identifier.
type deviceRef struct {
	DeviceId []byte `json:"deviceId" cbor:"1,keyasint"`
}

// Check returns an error if the deviceRef is invalid.
func (self deviceRef) Check() error {
	if len(self.DeviceId) < minDeviceIdLen {
		return wrapError(ErrMalformed, "DeviceId too short")
	}

	return nil
}

// messageBatch is the fetch response envelope.
type messageBatch struct {
	Messages []QueuedMessage `json:"messages" cbor:"1,keyasint,omitempty"`
}

// post sends msg to path and optionally decodes the response body into resp.
// Failures are classified into ErrUnreachable / ErrTimedOut / ErrRejected / ErrMalformed.
func (self *HTTPClient) post(ctx context.Context, path string, msg any, resp any) error {
	srzmsg, err := cborSrz.Marshal(msg)
	if nil != err {
		return wrapError(err, "failed serializing request")
	}

	timeout := self.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(tctx, http.MethodPost, self.BaseUrl+path, bytes.NewReader(srzmsg))
	if nil != err {
		return wrapError(err, "failed instantiating http Request")
	}
	req.Header.Add("Content-Type", "application/cbor")

	hc := self.HC
	if nil == hc {
		hc = http.DefaultClient
	}
	hresp, err := hc.Do(req)
	if nil != err {
		if errors.Is(err, context.DeadlineExceeded) {
			return wrapError(ErrTimedOut, "%s exceeded %s", path, timeout)
		}
		return wrapError(ErrUnreachable, "failed http POST %s, got error %v", path, err)
	}
	defer hresp.Body.Close()

	body, err := io.ReadAll(hresp.Body)
	if nil != err {
		return wrapError(ErrUnreachable, "failed reading %s response, got error %v", path, err)
	}
	if hresp.StatusCode >= 300 || hresp.StatusCode < 200 {
		return wrapError(ErrRejected, "%s returned status %d: %s", path, hresp.StatusCode, body)
	}

	if nil != resp {
		err = cborSrz.Unmarshal(body, resp)
		if nil != err {
			return wrapError(ErrMalformed, "failed decoding %s response, got error %v", path, err)
		}
	}

	return nil
}

var _ Client = &HTTPClient{}
