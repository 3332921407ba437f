package auth

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/fieldgate/backend/internal/otp"
)

func TestResetRejectedCodeKeepsStep(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1", withEmail("user1@example.com"))
	c := env.client("ns")
	ctx := context.Background()

	if res := c.RequestOTP(ctx, "user1"); !res.Success {
		t.Fatalf("RequestOTP = %+v", res)
	}
	if got := c.ResetState(); got.Step != StepEnterOTP {
		t.Fatalf("step = %q, want %q", got.Step, StepEnterOTP)
	}

	res := c.SubmitOTP(ctx, "000000")
	if !errors.Is(res.Err, ErrOTPRejected) || res.Field != "otp" || res.Message != otp.DefaultRejectMessage {
		t.Fatalf("SubmitOTP = %+v", res)
	}
	state := c.ResetState()
	if state.Step != StepEnterOTP || state.Validated {
		t.Fatalf("state after rejection = %+v", state)
	}

	res = c.SubmitNewPassword(ctx, "another1", "another1")
	if !errors.Is(res.Err, ErrInvalidStep) || res.Code != CodeInvalidStep {
		t.Fatalf("SubmitNewPassword out of order = %+v", res)
	}
	if !env.client("ns-check").Login(ctx, "user1", "secret1").Success {
		t.Fatal("password changed by a rejected flow")
	}
}

func TestResetFullFlow(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1", withEmail("user1@example.com"))
	c := env.client("ns")
	ctx := context.Background()

	res := c.RequestOTP(ctx, " USER1@example.com ")
	if !res.Success || res.Message != MsgOTPSent {
		t.Fatalf("RequestOTP = %+v", res)
	}
	if status := res.Data.(ResetStatus); status.Email != "u****@example.com" {
		t.Errorf("masked email = %q", status.Email)
	}

	if res := c.SubmitOTP(ctx, "12345"); res.Message != MsgOTPIncomplete || res.Field != "otp" {
		t.Fatalf("short code = %+v", res)
	}
	if res := c.SubmitOTP(ctx, "12a456"); res.Message != MsgOTPIncomplete {
		t.Fatalf("non-numeric code = %+v", res)
	}
	if env.otp.verifyCalls != 0 {
		t.Fatal("malformed codes reached the provider")
	}

	if res := c.SubmitOTP(ctx, "123456"); !res.Success {
		t.Fatalf("SubmitOTP = %+v", res)
	}
	if got := c.ResetState(); got.Step != StepSetNewPassword || !got.Validated {
		t.Fatalf("state = %+v", got)
	}

	if res := c.SubmitNewPassword(ctx, "", ""); res.Message != MsgNewPasswordEmpty {
		t.Fatalf("empty = %+v", res)
	}
	if res := c.SubmitNewPassword(ctx, "12345", "12345"); res.Message != MsgPasswordTooShort {
		t.Fatalf("short = %+v", res)
	}
	if res := c.SubmitNewPassword(ctx, "newpass1", "newpass2"); res.Message != MsgPasswordMismatch || res.Field != "confirmPassword" {
		t.Fatalf("mismatch = %+v", res)
	}

	if res := c.SubmitNewPassword(ctx, "newpass1", "newpass1"); !res.Success || res.Message != MsgPasswordUpdated {
		t.Fatalf("SubmitNewPassword = %+v", res)
	}
	if got := c.ResetState(); got != (ResetStatus{Step: StepDone}) {
		t.Fatalf("state after done = %+v", got)
	}

	// the finished flow cannot be replayed
	if res := c.SubmitNewPassword(ctx, "again123", "again123"); !errors.Is(res.Err, ErrInvalidStep) {
		t.Fatalf("replay = %+v", res)
	}

	check := env.client("ns-check")
	if !errors.Is(check.Login(ctx, "user1", "secret1").Err, ErrWrongPassword) {
		t.Fatal("old password still accepted")
	}
	if !check.Login(ctx, "user1", "newpass1").Success {
		t.Fatal("new password rejected")
	}
}

func TestResetRequestErrors(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("noemail", "secret1")
	c := env.client("ns")
	ctx := context.Background()

	if res := c.RequestOTP(ctx, " "); res.Message != MsgIdentifierRequired || res.Field != "identifier" {
		t.Fatalf("blank = %+v", res)
	}
	if res := c.RequestOTP(ctx, "ghost"); res.Message != MsgIdentifierNotFound || res.Field != "identifier" || res.Code != CodeAccountNotFound {
		t.Fatalf("unknown = %+v", res)
	}
	if res := c.RequestOTP(ctx, "noemail"); res.Message != MsgNoEmailOnAccount {
		t.Fatalf("no email = %+v", res)
	}
	if env.otp.sentCount() != 0 {
		t.Fatal("codes sent for invalid requests")
	}
	if c.ResetState().Step != StepEnterIdentifier {
		t.Fatal("failed requests moved the wizard")
	}
}

func TestResetProviderMessagesSurface(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1", withEmail("user1@example.com"))
	c := env.client("ns")
	ctx := context.Background()

	env.otp.generateErr = &otp.RejectedError{Message: "Email không hợp lệ"}
	res := c.RequestOTP(ctx, "user1")
	if res.Message != "Email không hợp lệ" || res.Code != CodeOTPRejected {
		t.Fatalf("rejected = %+v", res)
	}

	env.otp.generateErr = otp.ErrTransport
	res = c.RequestOTP(ctx, "user1")
	if res.Message != MsgOTPSendFailed || res.Code != CodeStoreUnavailable {
		t.Fatalf("transport failure = %+v", res)
	}
}

func TestResendOTP(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1", withEmail("user1@example.com"))
	c := env.client("ns")
	ctx := context.Background()

	if res := c.ResendOTP(ctx); !errors.Is(res.Err, ErrInvalidStep) || res.Message != MsgEmailLost {
		t.Fatalf("resend before request = %+v", res)
	}

	c.RequestOTP(ctx, "user1")
	if res := c.ResendOTP(ctx); !res.Success {
		t.Fatalf("ResendOTP = %+v", res)
	}
	if env.otp.sentCount() != 2 {
		t.Fatalf("sent %d codes, want 2", env.otp.sentCount())
	}
	if c.ResetState().Step != StepEnterOTP {
		t.Fatal("resend changed the step")
	}
}

func TestResetBackNavigation(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1", withEmail("user1@example.com"))
	c := env.client("ns")
	ctx := context.Background()

	if res := c.ResetBack(); !errors.Is(res.Err, ErrInvalidStep) {
		t.Fatalf("back from the first step = %+v", res)
	}

	c.RequestOTP(ctx, "user1")
	c.SubmitOTP(ctx, "123456")

	c.ResetBack()
	state := c.ResetState()
	if state.Step != StepEnterOTP || state.Validated {
		t.Fatalf("back from password step = %+v", state)
	}
	if res := c.SubmitNewPassword(ctx, "newpass1", "newpass1"); !errors.Is(res.Err, ErrInvalidStep) {
		t.Fatal("verification survived backward navigation")
	}

	c.ResetBack()
	if got := c.ResetState(); got.Step != StepEnterIdentifier || got.Email != "" {
		t.Fatalf("back to start = %+v", got)
	}
}

func TestRequestOTPNotAllowedMidFlow(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1", withEmail("user1@example.com"))
	c := env.client("ns")
	ctx := context.Background()

	c.RequestOTP(ctx, "user1")
	if res := c.RequestOTP(ctx, "user1"); !errors.Is(res.Err, ErrInvalidStep) {
		t.Fatalf("second request = %+v", res)
	}
}

func TestMaskEmail(t *testing.T) {
	for in, want := range map[string]string{
		"":                  "",
		"a@x.com":           "a@x.com",
		"alice@example.com": "a****@example.com",
		"not-an-email":      "not-an-email",
		"élodie@example.fr": "é*****@example.fr",
		"đạt@example.vn":    "đ**@example.vn",
	} {
		got := maskEmail(in)
		if got != want {
			t.Errorf("maskEmail(%q) = %q, want %q", in, got, want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("maskEmail(%q) produced invalid UTF-8", in)
		}
	}
}
