package unit

import (
	"testing"

	"github.com/swordli/mitmproxy/pkg/flow"
	"github.com/swordli/mitmproxy/pkg/header"
	"github.com/swordli/mitmproxy/pkg/httpmsg"
)

func TestAttachInstallsBackreference(t *testing.T) {
	f := flow.New()
	req := httpmsg.NewRequest(httpmsg.FormOrigin)

	flow.Attach(f, req)

	if f.Request != req {
		t.Fatal("expected flow.Request to be the attached request")
	}
	if req.Flow() != f {
		t.Fatal("expected request to point back at its flow")
	}
}

func TestAttachPanicsOnCrossFlowReattachment(t *testing.T) {
	f1 := flow.New()
	f2 := flow.New()
	req := httpmsg.NewRequest(httpmsg.FormOrigin)
	flow.Attach(f1, req)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when reattaching a request already owned by another flow")
		}
	}()
	flow.Attach(f2, req)
}

func TestAttachIsIdempotentForTheSameFlow(t *testing.T) {
	f := flow.New()
	req := httpmsg.NewRequest(httpmsg.FormOrigin)
	flow.Attach(f, req)
	flow.Attach(f, req) // must not panic
}

func TestCopyClonesResponseFromResponseNotRequest(t *testing.T) {
	f := flow.New()
	req := httpmsg.NewRequest(httpmsg.FormOrigin)
	req.Method = "GET"
	req.Path = "/req-path"
	flow.Attach(f, req)

	resp := httpmsg.NewResponse()
	resp.Code = 201
	resp.Msg = "Created"
	flow.Attach(f, resp)

	cp := f.Copy()

	if cp.ID == f.ID {
		t.Fatal("expected Copy to assign a fresh flow ID")
	}
	if cp.Response.Code != 201 || cp.Response.Msg != "Created" {
		t.Fatalf("expected response fields cloned from the original response, got %+v", cp.Response)
	}
	if cp.Request.Path != "/req-path" {
		t.Fatalf("expected request fields cloned from the original request, got %+v", cp.Request)
	}
}

func TestCopyProducesIndependentHeaders(t *testing.T) {
	f := flow.New()
	req := httpmsg.NewRequest(httpmsg.FormOrigin)
	req.Headers = header.New()
	req.Headers.Set("X-A", "1")
	flow.Attach(f, req)

	cp := f.Copy()
	cp.Request.Headers.Set("X-A", "2")

	if v, _ := f.Request.Headers.GetFirst("X-A"); v != "1" {
		t.Fatalf("expected original headers unaffected by mutating the copy, got %q", v)
	}
}

func TestStateRoundTripPreservesIdentityAndFields(t *testing.T) {
	f := flow.New()
	req := httpmsg.NewRequest(httpmsg.FormAbsolute)
	req.Method = "GET"
	req.Scheme = "https"
	req.Host = "example.com"
	req.Port = 443
	req.Path = "/x"
	req.Headers.Set("X-A", "1")
	req.Content = httpmsg.Bytes([]byte("body"))
	flow.Attach(f, req)

	restored := flow.FromState(f.StateTree())

	if restored.ID != f.ID {
		t.Fatal("expected ID preserved through state round trip")
	}
	if restored.Request.Host != "example.com" || restored.Request.Port != 443 {
		t.Fatalf("unexpected restored request: %+v", restored.Request)
	}
	if string(restored.Request.Content.Data()) != "body" {
		t.Fatalf("unexpected restored body: %q", restored.Request.Content.Data())
	}
	if restored.Request.Flow() != restored {
		t.Fatal("expected restored request reattached to the restored flow")
	}
}
