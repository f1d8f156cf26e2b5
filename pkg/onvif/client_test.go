package onvif

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const soapEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope"
  xmlns:tds="http://www.onvif.org/ver10/device/wsdl"
  xmlns:tev="http://www.onvif.org/ver10/events/wsdl"
  xmlns:tt="http://www.onvif.org/ver10/schema"
  xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"
  xmlns:wsa="http://www.w3.org/2005/08/addressing">
<SOAP-ENV:Body>%BODY%</SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

func soapServer(t *testing.T, handler func(request string) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		resp := strings.Replace(soapEnvelope, "%BODY%", handler(string(body)), 1)
		w.Header().Set("Content-Type", "application/soap+xml")
		io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetDeviceInformation(t *testing.T) {
	srv := soapServer(t, func(request string) string {
		if !strings.Contains(request, "GetDeviceInformation") {
			t.Errorf("unexpected request: %s", request)
		}
		// The security header must carry a digest token, not a plain password.
		if !strings.Contains(request, "PasswordDigest") {
			t.Error("request missing WS-Security digest")
		}
		if strings.Contains(request, "hunter2") {
			t.Error("plaintext password leaked into envelope")
		}
		return `<tds:GetDeviceInformationResponse>
			<tds:Manufacturer>HIKVISION</tds:Manufacturer>
			<tds:Model>DS-2CD2342WD-I</tds:Model>
			<tds:FirmwareVersion>V5.4.5</tds:FirmwareVersion>
		</tds:GetDeviceInformationResponse>`
	})

	c := NewClient(srv.Listener.Addr().String(), "admin", "hunter2")
	info, err := c.GetDeviceInformation(context.Background())
	if err != nil {
		t.Fatalf("get device information: %v", err)
	}
	if info.Manufacturer != "HIKVISION" || info.Model != "DS-2CD2342WD-I" {
		t.Errorf("unexpected device info: %+v", info)
	}
}

func TestEventServiceAddr(t *testing.T) {
	srv := soapServer(t, func(request string) string {
		return `<tds:GetCapabilitiesResponse><tds:Capabilities>
			<tt:Events><tt:XAddr>http://192.168.1.228:8000/onvif/Events</tt:XAddr></tt:Events>
		</tds:Capabilities></tds:GetCapabilitiesResponse>`
	})

	c := NewClient(srv.Listener.Addr().String(), "admin", "pw")
	addr, err := c.EventServiceAddr(context.Background())
	if err != nil {
		t.Fatalf("event service addr: %v", err)
	}
	if addr != "http://192.168.1.228:8000/onvif/Events" {
		t.Errorf("unexpected addr %q", addr)
	}
}

func TestCreatePullPointSubscription(t *testing.T) {
	var subAddr string
	srv := soapServer(t, func(request string) string {
		if !strings.Contains(request, MotionTopic) {
			t.Error("subscription request missing motion topic filter")
		}
		if !strings.Contains(request, "PT10M") {
			t.Error("subscription request missing initial termination time")
		}
		return `<tev:CreatePullPointSubscriptionResponse>
			<tev:SubscriptionReference><wsa:Address>` + subAddr + `</wsa:Address></tev:SubscriptionReference>
			<wsnt:CurrentTime>2026-03-14T15:00:00Z</wsnt:CurrentTime>
			<wsnt:TerminationTime>2026-03-14T15:10:00Z</wsnt:TerminationTime>
		</tev:CreatePullPointSubscriptionResponse>`
	})
	subAddr = srv.URL + "/onvif/Subscription?Idx=0"

	c := NewClient(srv.Listener.Addr().String(), "admin", "pw")
	sub, err := c.CreatePullPointSubscription(context.Background(), srv.URL+"/onvif/Events", 10*time.Minute)
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if sub.Address != subAddr {
		t.Errorf("unexpected subscription address %q", sub.Address)
	}
	if sub.TerminationTime.Sub(sub.CurrentTime) != 10*time.Minute {
		t.Errorf("unexpected lifetime: %v .. %v", sub.CurrentTime, sub.TerminationTime)
	}
}

func TestPullMessages(t *testing.T) {
	srv := soapServer(t, func(request string) string {
		if !strings.Contains(request, "<MessageLimit>100</MessageLimit>") {
			t.Error("pull request missing message limit")
		}
		return `<tev:PullMessagesResponse>
			<tev:CurrentTime>2026-03-14T15:01:00Z</tev:CurrentTime>
			<tev:TerminationTime>2026-03-14T15:10:00Z</tev:TerminationTime>
			<wsnt:NotificationMessage>
				<wsnt:Topic Dialect="http://www.onvif.org/ver10/tev/topicExpression/ConcreteSet">tns1:RuleEngine/CellMotionDetector/Motion</wsnt:Topic>
				<wsnt:Message>
					<tt:Message UtcTime="2026-03-14T15:00:59Z">
						<tt:Data>
							<tt:SimpleItem Name="IsMotion" Value="true"/>
						</tt:Data>
					</tt:Message>
				</wsnt:Message>
			</wsnt:NotificationMessage>
		</tev:PullMessagesResponse>`
	})

	c := NewClient(srv.Listener.Addr().String(), "admin", "pw")
	sub := &Subscription{Address: srv.URL + "/onvif/Subscription?Idx=0"}
	notifications, err := c.PullMessages(context.Background(), sub, 30*time.Second, 100)
	if err != nil {
		t.Fatalf("pull messages: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifications))
	}
	n := notifications[0]
	if n.Topic != MotionTopic {
		t.Errorf("unexpected topic %q", n.Topic)
	}
	if v, ok := n.Value("IsMotion"); !ok || v != "true" {
		t.Errorf("unexpected items: %v", n.Items)
	}
	if n.Time.IsZero() {
		t.Error("notification time not parsed")
	}
	if !sub.TerminationTime.Equal(time.Date(2026, 3, 14, 15, 10, 0, 0, time.UTC)) {
		t.Errorf("termination time not refreshed: %v", sub.TerminationTime)
	}
}

func TestPullMessagesEmpty(t *testing.T) {
	srv := soapServer(t, func(request string) string {
		return `<tev:PullMessagesResponse>
			<tev:CurrentTime>2026-03-14T15:01:00Z</tev:CurrentTime>
			<tev:TerminationTime>2026-03-14T15:10:00Z</tev:TerminationTime>
		</tev:PullMessagesResponse>`
	})

	c := NewClient(srv.Listener.Addr().String(), "admin", "pw")
	sub := &Subscription{Address: srv.URL}
	notifications, err := c.PullMessages(context.Background(), sub, time.Second, 100)
	if err != nil {
		t.Fatalf("pull messages: %v", err)
	}
	if len(notifications) != 0 {
		t.Errorf("expected no notifications, got %d", len(notifications))
	}
}

func TestRenewRefreshesTimes(t *testing.T) {
	srv := soapServer(t, func(request string) string {
		if !strings.Contains(request, "<Renew") {
			t.Errorf("unexpected request: %s", request)
		}
		return `<wsnt:RenewResponse>
			<wsnt:CurrentTime>2026-03-14T15:05:00Z</wsnt:CurrentTime>
			<wsnt:TerminationTime>2026-03-14T15:15:00Z</wsnt:TerminationTime>
		</wsnt:RenewResponse>`
	})

	c := NewClient(srv.Listener.Addr().String(), "admin", "pw")
	sub := &Subscription{Address: srv.URL}
	if err := c.Renew(context.Background(), sub, 10*time.Minute); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if sub.TerminationTime.Sub(sub.CurrentTime) != 10*time.Minute {
		t.Errorf("times not refreshed: %v .. %v", sub.CurrentTime, sub.TerminationTime)
	}
}

func TestSoapFault(t *testing.T) {
	srv := soapServer(t, func(request string) string {
		return `<SOAP-ENV:Fault>
			<SOAP-ENV:Code><SOAP-ENV:Value>SOAP-ENV:Sender</SOAP-ENV:Value></SOAP-ENV:Code>
			<SOAP-ENV:Reason><SOAP-ENV:Text xml:lang="en">Not authorized</SOAP-ENV:Text></SOAP-ENV:Reason>
		</SOAP-ENV:Fault>`
	})

	c := NewClient(srv.Listener.Addr().String(), "admin", "wrong")
	_, err := c.GetDeviceInformation(context.Background())
	if err == nil {
		t.Fatal("expected fault error")
	}
	if !strings.Contains(err.Error(), "Not authorized") {
		t.Errorf("fault reason not surfaced: %v", err)
	}
}

func TestUnreachableCamera(t *testing.T) {
	c := NewClient("127.0.0.1:1", "admin", "pw")
	c.http.Timeout = 500 * time.Millisecond
	_, err := c.GetDeviceInformation(context.Background())
	if err == nil {
		t.Fatal("expected connection error")
	}
}

func TestXSDDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{10 * time.Minute, "PT10M"},
		{30 * time.Second, "PT30S"},
		{90 * time.Second, "PT90S"},
		{0, "PT1S"},
	}
	for _, tt := range tests {
		if got := xsdDuration(tt.d); got != tt.want {
			t.Errorf("xsdDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
