package verifier

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Router returns the handler of the RESTful API.
func (v *Verifier) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", v.homeHandler)
	r.HandleFunc("/check/{network}/{account}/{claimed}", v.checkHandler).Methods("GET") // evaluate a claim, no writes
	r.HandleFunc("/reserve/{exchangeId}", v.reserveHandler).Methods("GET")              // stored verification
	r.HandleFunc("/reserve/{exchangeId}/update", v.updateHandler).Methods("POST")       // commit a verification
	r.HandleFunc("/alert/{exchangeId}", v.alertHandler).Methods("POST")                 // raise an alert
	r.HandleFunc("/verify", v.verifyHandler).Methods("POST")                            // run the pipeline
	r.HandleFunc("/runs/{exchangeId}", v.runsHandler).Methods("GET")                    // run history

	return r
}

// Init sets up and starts the http/https server to service the RESTful API. If sslPort, sslCert and sslKey are
// informed, it will start an https (TLS) server on the specified endpoint. It blocks until Stop is called.
func (v *Verifier) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var errc, errTLSc chan error

	r := v.Router()

	// writes wait for ledger confirmations
	writeTimeout := timeout * time.Second
	if d := v.p.sub.confirm * 3; d > writeTimeout {
		writeTimeout = d
	}

	v.mu.Lock()
	// start http server
	if port != "" {
		v.s = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + port,
			WriteTimeout: writeTimeout,
			ReadTimeout:  timeout * time.Second,
		}

		errc = make(chan error, 1)
		go func(s *http.Server) {
			errc <- s.ListenAndServe()
		}(v.s)

		v.log.Info().Msgf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		v.ss = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: writeTimeout,
			ReadTimeout:  timeout * time.Second,
		}

		errTLSc = make(chan error, 1)
		go func(s *http.Server) {
			errTLSc <- s.ListenAndServeTLS(sslCert, sslKey)
		}(v.ss)

		v.log.Info().Msgf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	v.mu.Unlock()

	// wait for servers to be shutdown
	<-v.sc

	return fmt.Sprintf("shutdown http server:%v, https server:%v", served(errc), served(errTLSc))
}

// served returns the error a server ended with, nil if it was not started or was shut down.
func served(errc chan error) error {
	if errc == nil {
		return nil
	}

	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
