// Package onvif implements the small slice of ONVIF this system needs:
// device information, the events capability lookup, and the pull-point
// subscription cycle (create, pull, renew, unsubscribe).
//
// ONVIF is SOAP 1.2 over plain HTTP with WS-Security UsernameToken digest
// authentication. The envelopes involved are few and fixed, so they are
// built from templates and parsed with encoding/xml rather than a generated
// WSDL binding.
package onvif

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MotionTopic is the topic expression cameras use for firmware motion
// detection events.
const MotionTopic = "tns1:RuleEngine/CellMotionDetector/Motion"

// Client talks to one camera's ONVIF services.
type Client struct {
	addr     string // host:port of the device service
	username string
	password string
	http     *http.Client

	// now is swappable for tests of the security header.
	now func() time.Time
}

func NewClient(addr, username, password string) *Client {
	return &Client{
		addr:     addr,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 45 * time.Second},
		now:      time.Now,
	}
}

func (c *Client) deviceEndpoint() string {
	return "http://" + c.addr + "/onvif/device_service"
}

// DeviceInformation is the subset of GetDeviceInformation worth logging.
type DeviceInformation struct {
	Manufacturer    string `xml:"Body>GetDeviceInformationResponse>Manufacturer"`
	Model           string `xml:"Body>GetDeviceInformationResponse>Model"`
	FirmwareVersion string `xml:"Body>GetDeviceInformationResponse>FirmwareVersion"`
}

func (c *Client) GetDeviceInformation(ctx context.Context) (*DeviceInformation, error) {
	body := `<GetDeviceInformation xmlns="http://www.onvif.org/ver10/device/wsdl"/>`
	action := "http://www.onvif.org/ver10/device/wsdl/GetDeviceInformation"

	var info DeviceInformation
	if err := c.call(ctx, c.deviceEndpoint(), action, body, &info); err != nil {
		return nil, fmt.Errorf("get device information: %w", err)
	}
	return &info, nil
}

// EventServiceAddr asks the device for its events service endpoint.
func (c *Client) EventServiceAddr(ctx context.Context) (string, error) {
	body := `<GetCapabilities xmlns="http://www.onvif.org/ver10/device/wsdl"><Category>Events</Category></GetCapabilities>`
	action := "http://www.onvif.org/ver10/device/wsdl/GetCapabilities"

	var resp struct {
		XAddr string `xml:"Body>GetCapabilitiesResponse>Capabilities>Events>XAddr"`
	}
	if err := c.call(ctx, c.deviceEndpoint(), action, body, &resp); err != nil {
		return "", fmt.Errorf("get capabilities: %w", err)
	}
	if resp.XAddr == "" {
		return "", fmt.Errorf("camera %s reports no events capability", c.addr)
	}
	return resp.XAddr, nil
}

// Subscription is a live pull-point subscription. Times come from the camera
// clock, which is the reference for renewal deadlines.
type Subscription struct {
	Address         string
	CurrentTime     time.Time
	TerminationTime time.Time
}

// CreatePullPointSubscription opens a motion-filtered pull point on the
// events service.
func (c *Client) CreatePullPointSubscription(ctx context.Context, eventsAddr string, termination time.Duration) (*Subscription, error) {
	body := fmt.Sprintf(
		`<CreatePullPointSubscription xmlns="http://www.onvif.org/ver10/events/wsdl">`+
			`<Filter>`+
			`<TopicExpression xmlns="http://docs.oasis-open.org/wsn/b-2" xmlns:tns1="http://www.onvif.org/ver10/topics" Dialect="http://www.onvif.org/ver10/tev/topicExpression/ConcreteSet">%s</TopicExpression>`+
			`</Filter>`+
			`<InitialTerminationTime>%s</InitialTerminationTime>`+
			`</CreatePullPointSubscription>`,
		MotionTopic, xsdDuration(termination))
	action := "http://www.onvif.org/ver10/events/wsdl/EventPortType/CreatePullPointSubscriptionRequest"

	var resp struct {
		Address         string `xml:"Body>CreatePullPointSubscriptionResponse>SubscriptionReference>Address"`
		CurrentTime     string `xml:"Body>CreatePullPointSubscriptionResponse>CurrentTime"`
		TerminationTime string `xml:"Body>CreatePullPointSubscriptionResponse>TerminationTime"`
	}
	if err := c.call(ctx, eventsAddr, action, body, &resp); err != nil {
		return nil, fmt.Errorf("create pull point subscription: %w", err)
	}
	if resp.Address == "" {
		return nil, fmt.Errorf("camera %s returned no subscription reference", c.addr)
	}

	sub := &Subscription{Address: strings.TrimSpace(resp.Address)}
	sub.CurrentTime, sub.TerminationTime = parseTimes(resp.CurrentTime, resp.TerminationTime, c.now())
	return sub, nil
}

// Notification is one event pulled from the camera, flattened to its topic,
// timestamp, and data items.
type Notification struct {
	Topic string
	Time  time.Time
	Items map[string]string
}

// Value returns a named data item from the notification payload.
func (n Notification) Value(name string) (string, bool) {
	v, ok := n.Items[name]
	return v, ok
}

// PullMessages blocks on the camera for up to wait for queued events and
// refreshes the subscription's clock fields from the response.
func (c *Client) PullMessages(ctx context.Context, sub *Subscription, wait time.Duration, limit int) ([]Notification, error) {
	body := fmt.Sprintf(
		`<PullMessages xmlns="http://www.onvif.org/ver10/events/wsdl">`+
			`<Timeout>%s</Timeout><MessageLimit>%d</MessageLimit>`+
			`</PullMessages>`,
		xsdDuration(wait), limit)
	action := "http://www.onvif.org/ver10/events/wsdl/PullPoint/PullMessagesRequest"

	var resp struct {
		CurrentTime     string `xml:"Body>PullMessagesResponse>CurrentTime"`
		TerminationTime string `xml:"Body>PullMessagesResponse>TerminationTime"`
		Messages        []struct {
			Topic   string `xml:"Topic"`
			Message struct {
				UtcTime string `xml:"UtcTime,attr"`
				Items   []struct {
					Name  string `xml:"Name,attr"`
					Value string `xml:"Value,attr"`
				} `xml:"Data>SimpleItem"`
			} `xml:"Message>Message"`
		} `xml:"Body>PullMessagesResponse>NotificationMessage"`
	}
	if err := c.call(ctx, sub.Address, action, body, &resp); err != nil {
		return nil, fmt.Errorf("pull messages: %w", err)
	}

	sub.CurrentTime, sub.TerminationTime = parseTimes(resp.CurrentTime, resp.TerminationTime, c.now())

	notifications := make([]Notification, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		n := Notification{
			Topic: strings.TrimSpace(m.Topic),
			Items: make(map[string]string, len(m.Message.Items)),
		}
		if t, err := parseXSDTime(m.Message.UtcTime); err == nil {
			n.Time = t
		} else {
			n.Time = c.now()
		}
		for _, item := range m.Message.Items {
			n.Items[item.Name] = item.Value
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}

// Renew extends the subscription and refreshes its clock fields. Must be
// called strictly before TerminationTime or the camera drops the pull point.
func (c *Client) Renew(ctx context.Context, sub *Subscription, termination time.Duration) error {
	body := fmt.Sprintf(
		`<Renew xmlns="http://docs.oasis-open.org/wsn/b-2"><TerminationTime>%s</TerminationTime></Renew>`,
		xsdDuration(termination))
	action := "http://docs.oasis-open.org/wsn/bw-2/SubscriptionManager/RenewRequest"

	var resp struct {
		CurrentTime     string `xml:"Body>RenewResponse>CurrentTime"`
		TerminationTime string `xml:"Body>RenewResponse>TerminationTime"`
	}
	if err := c.call(ctx, sub.Address, action, body, &resp); err != nil {
		return fmt.Errorf("renew subscription: %w", err)
	}
	sub.CurrentTime, sub.TerminationTime = parseTimes(resp.CurrentTime, resp.TerminationTime, c.now())
	return nil
}

// Unsubscribe tears down the pull point. Best effort on shutdown.
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	body := `<Unsubscribe xmlns="http://docs.oasis-open.org/wsn/b-2"/>`
	action := "http://docs.oasis-open.org/wsn/bw-2/SubscriptionManager/UnsubscribeRequest"

	var resp struct{}
	if err := c.call(ctx, sub.Address, action, body, &resp); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// call posts one SOAP envelope and unmarshals the response into out.
func (c *Client) call(ctx context.Context, endpoint, action, body string, out any) error {
	envelope := c.buildEnvelope(endpoint, action, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(envelope))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", `application/soap+xml; charset=utf-8; action="`+action+`"`)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if fault := parseFault(data); fault != "" {
		return fmt.Errorf("soap fault from %s: %s", endpoint, fault)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned HTTP %d", endpoint, resp.StatusCode)
	}

	return xml.Unmarshal(data, out)
}

func (c *Client) buildEnvelope(endpoint, action, body string) string {
	nonce := make([]byte, 16)
	rand.Read(nonce)
	created := c.now().UTC().Format("2006-01-02T15:04:05Z")

	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(c.password))
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:a="http://www.w3.org/2005/08/addressing">`)
	b.WriteString(`<s:Header>`)
	fmt.Fprintf(&b, `<a:Action s:mustUnderstand="1">%s</a:Action>`, action)
	fmt.Fprintf(&b, `<a:To s:mustUnderstand="1">%s</a:To>`, endpoint)
	b.WriteString(`<Security s:mustUnderstand="1" xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">`)
	b.WriteString(`<UsernameToken>`)
	fmt.Fprintf(&b, `<Username>%s</Username>`, xmlEscape(c.username))
	fmt.Fprintf(&b, `<Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</Password>`, digest)
	fmt.Fprintf(&b, `<Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</Nonce>`, base64.StdEncoding.EncodeToString(nonce))
	fmt.Fprintf(&b, `<Created xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</Created>`, created)
	b.WriteString(`</UsernameToken></Security>`)
	b.WriteString(`</s:Header>`)
	fmt.Fprintf(&b, `<s:Body>%s</s:Body>`, body)
	b.WriteString(`</s:Envelope>`)
	return b.String()
}

func parseFault(data []byte) string {
	var fault struct {
		Reason string `xml:"Body>Fault>Reason>Text"`
		Code   string `xml:"Body>Fault>Code>Value"`
	}
	if err := xml.Unmarshal(data, &fault); err != nil {
		return ""
	}
	if fault.Reason != "" {
		return strings.TrimSpace(fault.Reason)
	}
	return strings.TrimSpace(fault.Code)
}

// xsdDuration renders d as an xs:duration with second precision.
func xsdDuration(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	if secs%60 == 0 {
		return fmt.Sprintf("PT%dM", secs/60)
	}
	return fmt.Sprintf("PT%dS", secs)
}

// parseXSDTime handles the timestamp flavors cameras actually emit.
func parseXSDTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseTimes(current, termination string, fallback time.Time) (time.Time, time.Time) {
	cur, err := parseXSDTime(current)
	if err != nil {
		cur = fallback
	}
	term, err := parseXSDTime(termination)
	if err != nil {
		term = fallback.Add(time.Minute)
	}
	return cur, term
}

func xmlEscape(s string) string {
	var b bytes.Buffer
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
