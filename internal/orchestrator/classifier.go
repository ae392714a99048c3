package orchestrator

// #region imports
import (
	"github.com/danielpatrickdp/evalboard/go-controller/internal/evalsvc"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/store"
)

// #endregion

// #region notifications

// Titles and messages shown when a run aborts.
const (
	connectionTitle   = "ERROR: Connection"
	connectionMessage = "Unable to reach the evaluation service"
	genericTitle      = "ERROR: Deep Learning"
	genericMessage    = "Error while evaluating"
)

// #endregion

// #region classify

// Classify decides what a failed evaluation or commit means for the run:
// connectivity and generic failures abort, transient ones are skipped.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureNone
	}
	if store.IsServerSelection(err) {
		return FailureConnectivity
	}
	if code, ok := evalsvc.StatusCode(err); ok {
		switch {
		case code == evalsvc.NoStatus:
			return FailureConnectivity
		case code >= 500:
			return FailureTransient
		}
	}
	return FailureGeneric
}

// Aborts reports whether the class ends the run.
func (c FailureClass) Aborts() bool {
	return c == FailureConnectivity || c == FailureGeneric
}

// #endregion

// #region notification-text

func notification(c FailureClass) (title, message string) {
	if c == FailureConnectivity {
		return connectionTitle, connectionMessage
	}
	return genericTitle, genericMessage
}

// #endregion
