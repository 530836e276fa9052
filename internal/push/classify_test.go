package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyApns(t *testing.T) {
	tests := []struct {
		name string
		resp RawResponse
		want Outcome
	}{
		{
			name: "accepted",
			resp: RawResponse{StatusCode: 200},
			want: OutcomeDelivered,
		},
		{
			name: "unregistered token",
			resp: RawResponse{StatusCode: 410, Body: []byte(`{"reason":"Unregistered"}`)},
			want: OutcomePermanentFailure,
		},
		{
			name: "bad device token",
			resp: RawResponse{StatusCode: 400, Body: []byte(`{"reason":"BadDeviceToken"}`)},
			want: OutcomePermanentFailure,
		},
		{
			name: "token not for topic",
			resp: RawResponse{StatusCode: 400, Body: []byte(`{"reason":"DeviceTokenNotForTopic"}`)},
			want: OutcomePermanentFailure,
		},
		{
			name: "throttled",
			resp: RawResponse{StatusCode: 429, Body: []byte(`{"reason":"TooManyRequests"}`)},
			want: OutcomeSoftFailure,
		},
		{
			name: "unparseable body",
			resp: RawResponse{StatusCode: 500, Body: []byte(`<html>`)},
			want: OutcomeSoftFailure,
		},
		{
			name: "empty body",
			resp: RawResponse{StatusCode: 503},
			want: OutcomeSoftFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyApns(tt.resp))
			// Classification is a pure function of the response.
			assert.Equal(t, tt.want, ClassifyApns(tt.resp))
		})
	}
}

func TestClassifyFcm(t *testing.T) {
	tests := []struct {
		name string
		resp RawResponse
		want Outcome
	}{
		{
			name: "accepted",
			resp: RawResponse{StatusCode: 200, Body: []byte(`{"name":"projects/p/messages/123"}`)},
			want: OutcomeDelivered,
		},
		{
			name: "404 error code",
			resp: RawResponse{StatusCode: 404, Body: []byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`)},
			want: OutcomePermanentFailure,
		},
		{
			name: "unregistered detail",
			resp: RawResponse{StatusCode: 400, Body: []byte(`{"error":{"code":400,"details":[{"errorCode":"UNREGISTERED"}]}}`)},
			want: OutcomePermanentFailure,
		},
		{
			name: "other error",
			resp: RawResponse{StatusCode: 400, Body: []byte(`{"error":{"code":400,"details":[{"errorCode":"INVALID_ARGUMENT"}]}}`)},
			want: OutcomeSoftFailure,
		},
		{
			name: "unparseable body",
			resp: RawResponse{StatusCode: 200, Body: []byte(`not json`)},
			want: OutcomeSoftFailure,
		},
		{
			name: "empty object",
			resp: RawResponse{StatusCode: 200, Body: []byte(`{}`)},
			want: OutcomeSoftFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyFcm(tt.resp))
		})
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "delivered", OutcomeDelivered.String())
	assert.Equal(t, "soft-failure", OutcomeSoftFailure.String())
	assert.Equal(t, "permanent-failure", OutcomePermanentFailure.String())
}
