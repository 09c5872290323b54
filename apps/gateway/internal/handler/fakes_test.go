package handler_test

import (
	"context"
	"errors"
)

// fakeStorageClient is a minimal storageclient.Client used by this
// package's handler tests.
type fakeStorageClient struct {
	getBody    string
	getErr     error
	putCID     string
	putErr     error
	putCalls   int
	lastPutURL string
}

func (f *fakeStorageClient) Get(ctx context.Context, baseURL, cid string, traced bool) (int, string, string, error) {
	if f.getErr != nil {
		return 502, "", "N/A", f.getErr
	}
	return 200, f.getBody, "N/A", nil
}

func (f *fakeStorageClient) Put(ctx context.Context, baseURL string, body []byte) (int, string, error) {
	f.putCalls++
	f.lastPutURL = baseURL
	if f.putErr != nil {
		return 502, "", f.putErr
	}
	return 201, f.putCID, nil
}

// fakePicker is a minimal writeTargetPicker stand-in.
type fakePicker struct {
	index   int
	baseURL string
	err     error
}

func (f *fakePicker) NextHealthy() (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.index, nil
}

func (f *fakePicker) BaseURL(index int) string {
	return f.baseURL
}

var errNoHealthy = errors.New("no healthy node")
