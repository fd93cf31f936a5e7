package arm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/azmove/azmove/pkg/policy"
)

// DefaultBaseURL is the public Azure Resource Manager endpoint.
const DefaultBaseURL = "https://management.azure.com"

// API versions per endpoint family.
const (
	apiVersionManagementGroups = "2021-04-01"
	apiVersionPolicy           = "2023-04-01"
	apiVersionExemptions       = "2022-07-01-preview"
	apiVersionResources        = "2021-04-01"
)

// RequestObserver receives one observation per completed ARM request.
// Implemented by telemetry.Metrics; nil disables observation.
type RequestObserver interface {
	ObserveRequest(operation string, status int, duration time.Duration)
}

// Options configures a Client.
type Options struct {
	// BaseURL overrides the ARM endpoint, mainly for tests.
	BaseURL string

	// MaxAttempts bounds retries per request, including the first attempt.
	MaxAttempts int

	// InitialBackoff is the first retry delay; subsequent delays grow
	// exponentially with jitter.
	InitialBackoff time.Duration

	// MaxBackoff caps a single retry delay.
	MaxBackoff time.Duration

	// Timeout bounds one HTTP round trip.
	Timeout time.Duration

	// Observer receives per-request metrics observations.
	Observer RequestObserver
}

func (o *Options) withDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
}

// Client is a read-only Azure Resource Manager client. Every request goes
// through one retrying wrapper: bounded exponential backoff with jitter,
// honoring server Retry-After hints on throttled responses.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenProvider
	opts       Options
	observer   RequestObserver
	logger     zerolog.Logger
}

// NewClient creates an ARM client.
func NewClient(tokens TokenProvider, opts Options, logger zerolog.Logger) *Client {
	opts.withDefaults()
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		tokens:     tokens,
		opts:       opts,
		observer:   opts.Observer,
		logger:     logger.With().Str("component", "arm-client").Logger(),
	}
}

// GetManagementGroup fetches one management group with its parent expanded.
func (c *Client) GetManagementGroup(ctx context.Context, name string) (*ManagementGroup, error) {
	path := fmt.Sprintf("/providers/Microsoft.Management/managementGroups/%s", url.PathEscape(name))
	query := url.Values{
		"api-version": {apiVersionManagementGroups},
		"$expand":     {"parent"},
	}

	body, err := c.get(ctx, path, query, "management_group_get")
	if err != nil {
		return nil, err
	}
	return managementGroupFromEnvelope(body)
}

// GetPolicyDefinition fetches a policy definition by its full resource ID,
// built-in or custom.
func (c *Client) GetPolicyDefinition(ctx context.Context, id string) (*policy.Definition, error) {
	body, err := c.get(ctx, id, url.Values{"api-version": {apiVersionPolicy}}, "policy_definition_get")
	if err != nil {
		return nil, err
	}
	return definitionFromEnvelope(body)
}

// GetPolicySetDefinition fetches an initiative by its full resource ID.
func (c *Client) GetPolicySetDefinition(ctx context.Context, id string) (*policy.SetDefinition, error) {
	body, err := c.get(ctx, id, url.Values{"api-version": {apiVersionPolicy}}, "policy_set_definition_get")
	if err != nil {
		return nil, err
	}
	return setDefinitionFromEnvelope(body)
}

// ListPolicyAssignments lists assignments bound exactly to the given scope.
// Inherited assignments are excluded: the hierarchy walk supplies ancestor
// scopes one by one.
func (c *Client) ListPolicyAssignments(ctx context.Context, scope string) ([]*policy.Assignment, error) {
	path := fmt.Sprintf("%s/providers/Microsoft.Authorization/policyAssignments", scope)
	query := url.Values{
		"api-version": {apiVersionPolicy},
		"$filter":     {"atExactScope()"},
	}

	pages, err := c.getPaged(ctx, path, query, "policy_assignments_list")
	if err != nil {
		return nil, err
	}

	assignments := make([]*policy.Assignment, 0, len(pages))
	for _, raw := range pages {
		a, err := assignmentFromEnvelope(raw)
		if err != nil {
			c.logger.Warn().Err(err).Str("scope", scope).Msg("Skipping undecodable policy assignment")
			continue
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}

// ListPolicyExemptions lists the exemptions visible at the given scope.
// Management-group scopes return only exemptions bound exactly there; a
// subscription scope is listed unfiltered, so exemptions declared on
// resource groups and individual resources inside it are included too.
func (c *Client) ListPolicyExemptions(ctx context.Context, scope string) ([]*policy.Exemption, error) {
	path := fmt.Sprintf("%s/providers/Microsoft.Authorization/policyExemptions", scope)
	query := url.Values{"api-version": {apiVersionExemptions}}
	if !isSubscriptionScope(scope) {
		query.Set("$filter", "atExactScope()")
	}

	pages, err := c.getPaged(ctx, path, query, "policy_exemptions_list")
	if err != nil {
		return nil, err
	}

	exemptions := make([]*policy.Exemption, 0, len(pages))
	for _, raw := range pages {
		ex, err := exemptionFromEnvelope(raw)
		if err != nil {
			c.logger.Warn().Err(err).Str("scope", scope).Msg("Skipping undecodable policy exemption")
			continue
		}
		exemptions = append(exemptions, ex)
	}
	return exemptions, nil
}

// ListResources lists a subscription's resource inventory, optionally
// narrowed to the given resource types.
func (c *Client) ListResources(ctx context.Context, subscriptionID string, types []string) ([]*GenericResource, error) {
	path := fmt.Sprintf("/subscriptions/%s/resources", url.PathEscape(subscriptionID))
	query := url.Values{"api-version": {apiVersionResources}}
	if filter := typeFilter(types); filter != "" {
		query.Set("$filter", filter)
	}

	pages, err := c.getPaged(ctx, path, query, "resources_list")
	if err != nil {
		return nil, err
	}

	resources := make([]*GenericResource, 0, len(pages))
	for _, raw := range pages {
		var r GenericResource
		if err := unmarshalLenient(raw, &r); err != nil {
			c.logger.Warn().Err(err).Msg("Skipping undecodable resource entry")
			continue
		}
		resources = append(resources, &r)
	}
	return resources, nil
}

// GetResource fetches one resource expanded, using the resource-type
// specific API version.
func (c *Client) GetResource(ctx context.Context, resourceID string) (*GenericResource, error) {
	query := url.Values{"api-version": {apiVersionForType(resourceTypeFromID(resourceID))}}

	body, err := c.get(ctx, resourceID, query, "resource_get")
	if err != nil {
		return nil, err
	}

	var r GenericResource
	if err := unmarshalLenient(body, &r); err != nil {
		return nil, fmt.Errorf("failed to decode resource %s: %w", resourceID, err)
	}
	return &r, nil
}

// isSubscriptionScope reports whether scope is a bare subscription scope,
// "/subscriptions/<id>" with no further segments.
func isSubscriptionScope(scope string) bool {
	parts := strings.Split(strings.Trim(scope, "/"), "/")
	return len(parts) == 2 && strings.EqualFold(parts[0], "subscriptions")
}

// typeFilter builds the OData filter for a resource-type list.
func typeFilter(types []string) string {
	clauses := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("resourceType eq '%s'", t))
	}
	return strings.Join(clauses, " or ")
}

// resourceTypeFromID extracts "Microsoft.Xxx/type" from a resource ID.
func resourceTypeFromID(id string) string {
	parts := strings.Split(id, "/")
	for i, p := range parts {
		if strings.EqualFold(p, "providers") && i+2 < len(parts) {
			return parts[i+1] + "/" + parts[i+2]
		}
	}
	return ""
}

// apiVersionForType picks a GET API version per resource type. The table
// covers the types the simulator inspects deeply; everything else uses the
// generic resources version.
func apiVersionForType(resourceType string) string {
	switch strings.ToLower(resourceType) {
	case "microsoft.network/networkinterfaces",
		"microsoft.network/publicipaddresses",
		"microsoft.network/networksecuritygroups",
		"microsoft.network/virtualnetworks":
		return "2023-05-01"
	case "microsoft.compute/virtualmachines":
		return "2023-07-01"
	case "microsoft.storage/storageaccounts":
		return "2023-01-01"
	case "microsoft.keyvault/vaults":
		return "2023-02-01"
	default:
		return apiVersionResources
	}
}

// getPaged follows nextLink until the collection is exhausted.
func (c *Client) getPaged(ctx context.Context, path string, query url.Values, operation string) ([]json.RawMessage, error) {
	var items []json.RawMessage

	body, err := c.get(ctx, path, query, operation)
	for {
		if err != nil {
			return nil, err
		}

		var page listPage
		if err := unmarshalLenient(body, &page); err != nil {
			return nil, fmt.Errorf("failed to decode %s page: %w", operation, err)
		}
		items = append(items, page.Value...)

		if page.NextLink == "" {
			return items, nil
		}
		body, err = c.getURL(ctx, page.NextLink, operation)
	}
}

// get performs a GET against baseURL+path.
func (c *Client) get(ctx context.Context, path string, query url.Values, operation string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.getURL(ctx, u, operation)
}

// getURL performs a GET against an absolute URL with the retry policy.
func (c *Client) getURL(ctx context.Context, rawURL string, operation string) ([]byte, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.opts.InitialBackoff
	expo.MaxInterval = c.opts.MaxBackoff
	expo.RandomizationFactor = 0.3

	attempt := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		data, reqErr := c.doOnce(ctx, rawURL, operation)
		if reqErr == nil {
			return data, nil
		}

		if retryAfter, ok := retryAfterHint(reqErr); ok {
			c.logger.Debug().
				Str("operation", operation).
				Int("attempt", attempt).
				Dur("retry_after", retryAfter).
				Msg("Throttled, honoring server retry hint")
			return nil, backoff.RetryAfter(int(retryAfter.Seconds()))
		}
		if !IsRetryable(reqErr) {
			return nil, backoff.Permanent(reqErr)
		}

		c.logger.Debug().
			Err(reqErr).
			Str("operation", operation).
			Int("attempt", attempt).
			Msg("Transient request failure, retrying")
		return nil, reqErr
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(c.opts.MaxAttempts)))

	if err != nil {
		return nil, err
	}
	return body, nil
}

// doOnce performs a single authenticated request.
func (c *Client) doOnce(ctx context.Context, rawURL string, operation string) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &RequestError{
			Class:     ErrorClassPermanent,
			Operation: operation,
			URL:       rawURL,
			Message:   "failed to obtain access token",
			Err:       err,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &RequestError{Class: ErrorClassPermanent, Operation: operation, URL: rawURL, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(operation, 0, time.Since(start))
		return nil, &RequestError{Class: ErrorClassTransient, Operation: operation, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.observe(operation, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, &RequestError{Class: ErrorClassTransient, Operation: operation, URL: rawURL, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	reqErr := &RequestError{
		Class:      classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Operation:  operation,
		URL:        rawURL,
		Message:    errorMessage(data),
	}
	if reqErr.Class == ErrorClassThrottled {
		reqErr.Message = appendRetryAfter(reqErr.Message, resp.Header.Get("Retry-After"))
		reqErr.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return nil, reqErr
}

func (c *Client) observe(operation string, status int, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(operation, status, d)
	}
}

// errorMessage extracts the ARM error message from an error body.
func errorMessage(body []byte) string {
	var wrapper struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := unmarshalLenient(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		if wrapper.Error.Code != "" {
			return wrapper.Error.Code + ": " + wrapper.Error.Message
		}
		return wrapper.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func appendRetryAfter(msg, hint string) string {
	if hint == "" {
		return msg
	}
	return msg + " (retry-after " + hint + "s)"
}

func parseRetryAfter(hint string) time.Duration {
	if hint == "" {
		return 0
	}
	if secs, err := strconv.Atoi(hint); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// retryAfterHint extracts a server-supplied retry delay from an error.
func retryAfterHint(err error) (time.Duration, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.retryAfter > 0 {
		return reqErr.retryAfter, true
	}
	return 0, false
}
