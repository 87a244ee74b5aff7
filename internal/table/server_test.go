package table

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/elgizali/Covertor/internal/extraction"
)

// paddingReader yields an endless stream of filler bytes for oversized
// upload requests
type paddingReader struct{}

func (paddingReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = '0'
	}
	return len(p), nil
}

// multipartUpload builds a multipart body with an explicit part content type
func multipartUpload(filename, contentType string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())

	return body, writer.FormDataContentType()
}

func decodeSnapshot(resp *http.Response) Snapshot {
	defer resp.Body.Close()
	var snap Snapshot
	Expect(json.NewDecoder(resp.Body).Decode(&snap)).To(Succeed())
	return snap
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		credentials *mockCredentialStore
		storage     *mockStorage
		extractor   *mockExtractor
		service     *Service
		auth        BasicAuth
		server      *Server
		testServer  *httptest.Server
	)

	// The specs walk multi-request flows (key, upload, convert, export),
	// so the mux is served directly rather than through a queue of
	// per-request expectations.
	setupServer := func() {
		if testServer != nil {
			testServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		testServer = httptest.NewServer(server)
	}

	uploadImage := func(filename, contentType string, data []byte) *http.Response {
		body, formContentType := multipartUpload(filename, contentType, data)
		resp, err := http.Post(testServer.URL+"/api/image", formContentType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	submitKey := func(key string) *http.Response {
		payload, _ := json.Marshal(map[string]string{"api_key": key})
		resp, err := http.Post(testServer.URL+"/api/credential", "application/json", bytes.NewReader(payload))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	convert := func() *http.Response {
		resp, err := http.Post(testServer.URL+"/api/convert", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		db = newMockDB()
		credentials = &mockCredentialStore{}
		storage = newMockStorage()
		extractor = newMockExtractor()
		service = NewServiceWithDeps(db, credentials, storage, extractor, &mockIDGenerator{id: "12345"}, &defaultTimeSource{})
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if testServer != nil {
			testServer.Close()
		}
	})

	Describe("handleIndex", func() {
		It("should return the UI page", func() {
			resp, err := http.Get(testServer.URL + "/")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Covertor"))
		})
	})

	Describe("handleState", func() {
		It("reports NoCredential on a fresh start", func() {
			resp, err := http.Get(testServer.URL + "/api/state")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeSnapshot(resp).State).To(Equal(StateNoCredential))
		})
	})

	Describe("handleSubmitCredential", func() {
		It("stores the key and advances the state", func() {
			resp := submitKey("abc123")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeSnapshot(resp).State).To(Equal(StateAwaitingImage))
			Expect(credentials.key).To(Equal("abc123"))
		})

		It("rejects an empty key", func() {
			resp := submitKey("")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a malformed body", func() {
			resp, err := http.Post(testServer.URL+"/api/credential", "application/json", strings.NewReader("{not json"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleClearCredential", func() {
		It("removes the key and returns to NoCredential", func() {
			submitKey("abc123").Body.Close()

			req, err := http.NewRequest(http.MethodDelete, testServer.URL+"/api/credential", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeSnapshot(resp).State).To(Equal(StateNoCredential))
			Expect(credentials.present).To(BeFalse())
		})
	})

	Describe("handleSelectImage", func() {
		BeforeEach(func() {
			submitKey("abc123").Body.Close()
		})

		When("uploading a valid JPEG", func() {
			It("returns ImageReady", func() {
				resp := uploadImage("scan.jpg", "image/jpeg", []byte("img"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				snap := decodeSnapshot(resp)
				Expect(snap.State).To(Equal(StateImageReady))
				Expect(snap.ImageName).To(Equal("scan.jpg"))
			})
		})

		When("uploading a rejected media type", func() {
			It("returns a validation message without calling the extractor", func() {
				resp := uploadImage("doc.pdf", "application/pdf", []byte("pdf"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var body map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
				Expect(body["error"]).To(ContainSubstring("application/pdf"))
				Expect(extractor.calls).To(BeZero())
			})
		})

		When("no file is attached", func() {
			It("returns a friendly message", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.Close()).To(Succeed())

				resp, err := http.Post(testServer.URL+"/api/image", writer.FormDataContentType(), body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the body exceeds the upload cap", func() {
			It("returns the friendly size message", func() {
				body := io.LimitReader(paddingReader{}, 50<<20+1024)
				resp, err := http.Post(testServer.URL+"/api/image", "multipart/form-data; boundary=covertor", body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var payload map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
				Expect(payload["error"]).To(ContainSubstring("Maximum size is 50MB"))
			})
		})
	})

	Describe("uploadParseErrorMessage", func() {
		It("maps an oversized body to the size message", func() {
			msg := uploadParseErrorMessage(&http.MaxBytesError{Limit: 50 << 20})
			Expect(msg).To(ContainSubstring("Maximum size is 50MB"))
		})

		It("keeps other parse failures generic", func() {
			msg := uploadParseErrorMessage(errors.New("malformed MIME header"))
			Expect(msg).To(Equal("Error parsing form"))
		})
	})

	Describe("handleConvert", func() {
		BeforeEach(func() {
			submitKey("abc123").Body.Close()
			uploadImage("scan.jpg", "image/jpeg", []byte("img")).Body.Close()
		})

		When("extraction succeeds", func() {
			It("returns the Converted snapshot with the table", func() {
				resp := convert()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				snap := decodeSnapshot(resp)
				Expect(snap.State).To(Equal(StateConverted))
				Expect(snap.Table).To(HaveLen(2))
				Expect(snap.Table[0]).To(Equal([]string{"Name", "Qty", "Price"}))
			})
		})

		When("the remote rejects the API key", func() {
			BeforeEach(func() {
				extractor.err = fmt.Errorf("%w: API key not valid.", extraction.ErrInvalidAPIKey)
			})

			It("returns 401 with the forced key re-entry state", func() {
				resp := convert()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

				snap := decodeSnapshot(resp)
				Expect(snap.State).To(Equal(StateNoCredential))
				Expect(snap.Error).To(Equal("API key not valid. Please enter a new key."))
				Expect(credentials.present).To(BeFalse())
			})
		})

		When("extraction yields zero rows", func() {
			BeforeEach(func() {
				extractor.err = extraction.ErrEmptyResult
			})

			It("returns the failure snapshot", func() {
				resp := convert()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				snap := decodeSnapshot(resp)
				Expect(snap.State).To(Equal(StateConversionFailed))
				Expect(snap.Error).NotTo(BeEmpty())
			})
		})

		When("no image is selected", func() {
			It("returns 400", func() {
				service.SelectImage("bad.pdf", []byte("x"), "application/pdf")
				resp := convert()
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleExport", func() {
		BeforeEach(func() {
			submitKey("abc123").Body.Close()
		})

		When("no table is present", func() {
			It("returns 400", func() {
				resp, err := http.Get(testServer.URL + "/api/export")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("a table is present", func() {
			BeforeEach(func() {
				uploadImage("scan.jpg", "image/jpeg", []byte("img")).Body.Close()
				convert().Body.Close()
			})

			It("serves one attachment with the fixed filename", func() {
				resp, err := http.Get(testServer.URL + "/api/export")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring(`filename="covertor-table.xlsx"`))

				data, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(data).NotTo(BeEmpty())
			})
		})
	})

	Describe("conversion history endpoints", func() {
		BeforeEach(func() {
			submitKey("abc123").Body.Close()
			uploadImage("scan.jpg", "image/jpeg", []byte("img")).Body.Close()
			convert().Body.Close()
		})

		It("lists conversions", func() {
			resp, err := http.Get(testServer.URL + "/api/conversions")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var conversions []*Conversion
			Expect(json.NewDecoder(resp.Body).Decode(&conversions)).To(Succeed())
			Expect(conversions).To(HaveLen(1))
		})

		It("gets a conversion by ID", func() {
			resp, err := http.Get(testServer.URL + "/api/conversions/12345")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var conversion Conversion
			Expect(json.NewDecoder(resp.Body).Decode(&conversion)).To(Succeed())
			Expect(conversion.SourceFilename).To(Equal("scan.jpg"))
		})

		It("returns 404 for an unknown conversion", func() {
			resp, err := http.Get(testServer.URL + "/api/conversions/nope")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("serves the stored source image", func() {
			resp, err := http.Get(testServer.URL + "/api/conversions/12345/image")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
		})

		It("exports a stored conversion", func() {
			resp, err := http.Get(testServer.URL + "/api/conversions/12345/export")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("covertor-table.xlsx"))
		})

		It("deletes a conversion", func() {
			req, err := http.NewRequest(http.MethodDelete, testServer.URL+"/api/conversions/12345", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			check, err := http.Get(testServer.URL + "/api/conversions/12345")
			Expect(err).NotTo(HaveOccurred())
			check.Body.Close()
			Expect(check.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
			setupServer()
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Get(testServer.URL + "/api/state")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts requests with the right credentials", func() {
			req, err := http.NewRequest(http.MethodGet, testServer.URL+"/api/state", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "pass")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("rejects the wrong password", func() {
			req, err := http.NewRequest(http.MethodGet, testServer.URL+"/api/state", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "wrong")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})
})
