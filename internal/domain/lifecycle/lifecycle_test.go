package lifecycle

import (
	"errors"
	"testing"

	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		current model.Status
		want    model.Status
		wantErr bool
	}{
		{"accept из created", EventAccept, model.StatusCreated, model.StatusInProgress, false},
		{"accept из under_review", EventAccept, model.StatusUnderReview, model.StatusInProgress, false},
		{"accept из in_progress", EventAccept, model.StatusInProgress, "", true},
		{"accept из completed", EventAccept, model.StatusCompleted, "", true},
		{"reject из created", EventReject, model.StatusCreated, model.StatusRejected, false},
		{"reject из in_progress", EventReject, model.StatusInProgress, model.StatusRejected, false},
		{"reject из rejected", EventReject, model.StatusRejected, "", true},
		{"reject из completed", EventReject, model.StatusCompleted, "", true},
		{"upload_document из in_progress", EventUploadDocument, model.StatusInProgress, model.StatusInProgress, false},
		{"upload_document из created", EventUploadDocument, model.StatusCreated, "", true},
		{"complete из in_progress", EventComplete, model.StatusInProgress, model.StatusCompleted, false},
		{"complete из under_review", EventComplete, model.StatusUnderReview, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.event, tt.current)
			if tt.wantErr {
				var te *TransitionError
				if !errors.As(err, &te) {
					t.Fatalf("ожидается *TransitionError, получено %v", err)
				}
				if te.Code != CodeInvalidTransition {
					t.Errorf("Code = %q, ожидается %q", te.Code, CodeInvalidTransition)
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if got != tt.want {
				t.Errorf("Next(%s, %s) = %s, ожидается %s", tt.event, tt.current, got, tt.want)
			}
		})
	}
}

func TestNext_UnknownEvent(t *testing.T) {
	if _, err := Next(EventChangeStatus, model.StatusCreated); err == nil {
		t.Error("change_status не является именованным переходом, ожидается ошибка")
	}
}

func TestCanChangeStatus(t *testing.T) {
	tests := []struct {
		name     string
		current  model.Status
		target   model.Status
		wantCode string
	}{
		{"created → under_review", model.StatusCreated, model.StatusUnderReview, ""},
		{"created → in_progress", model.StatusCreated, model.StatusInProgress, ""},
		{"under_review → in_progress", model.StatusUnderReview, model.StatusInProgress, ""},
		{"in_progress → created", model.StatusInProgress, model.StatusCreated, CodeInvalidTransition},
		{"under_review → created", model.StatusUnderReview, model.StatusCreated, CodeInvalidTransition},
		{"самопереход", model.StatusCreated, model.StatusCreated, CodeInvalidTransition},
		{"из терминального", model.StatusCompleted, model.StatusInProgress, CodeInvalidTransition},
		{"в rejected", model.StatusCreated, model.StatusRejected, CodePayloadRequired},
		{"в completed", model.StatusInProgress, model.StatusCompleted, CodePayloadRequired},
		{"неизвестный статус", model.StatusCreated, model.Status("approved"), CodeInvalidTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanChangeStatus(tt.current, tt.target)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("неожиданная ошибка: %v", err)
				}
				return
			}
			var te *TransitionError
			if !errors.As(err, &te) {
				t.Fatalf("ожидается *TransitionError, получено %v", err)
			}
			if te.Code != tt.wantCode {
				t.Errorf("Code = %q, ожидается %q", te.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		event Event
		role  string
		ok    bool
	}{
		{EventSubmit, rbac.RoleStudent, true},
		{EventSubmit, rbac.RoleReviewer, false},
		{EventAccept, rbac.RoleStudent, false},
		{EventAccept, rbac.RoleReviewer, true},
		{EventReject, rbac.RoleProrector, true},
		{EventComplete, rbac.RoleAdmin, true},
		{EventChangeStatus, rbac.RoleStudent, false},
		{EventUploadDocument, "", false},
	}

	for _, tt := range tests {
		err := Authorize(tt.event, tt.role)
		if (err == nil) != tt.ok {
			t.Errorf("Authorize(%s, %q) = %v, ожидается ok=%v", tt.event, tt.role, err, tt.ok)
		}
	}
}

func TestAllowedTargets(t *testing.T) {
	got := AllowedTargets(model.StatusCreated)
	if len(got) != 2 || got[0] != model.StatusUnderReview || got[1] != model.StatusInProgress {
		t.Errorf("AllowedTargets(created) = %v", got)
	}
	if got := AllowedTargets(model.StatusRejected); len(got) != 0 {
		t.Errorf("из терминального статуса переходов нет, получено %v", got)
	}
}
