package committer_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestCommitterProperties(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Committer Properties")
}
