package timer

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fenmoor/agentcore/event"
)

var _ = Describe("Table", func() {
	var table *Table

	BeforeEach(func() {
		table = NewTable()
	})

	It("round-trips add/list/remove", func() {
		id := table.AddRecurring(25*time.Millisecond, event.TextInput, event.NoArgs{})
		Expect(table.List()).To(ContainElement(id))

		Expect(table.Remove(id)).To(Succeed())
		Expect(table.List()).NotTo(ContainElement(id))
	})

	It("removes an unknown id with a logic error", func() {
		err := table.Remove(999)
		Expect(err).To(MatchError(ErrNoSuchTimer))
	})

	It("fires a one-shot timer exactly once and then removes it", func() {
		id := table.Delay(50*time.Millisecond, event.TextInput, event.StringArgs{Value: "payload"})

		Expect(table.Fire(time.Now())).To(BeEmpty(), "too early")
		Expect(table.List()).To(ContainElement(id))

		fired := table.Fire(time.Now().Add(60 * time.Millisecond))
		Expect(fired).To(HaveLen(1))
		Expect(fired[0].Args.(event.StringArgs).Value).To(Equal("payload"))

		Expect(table.List()).NotTo(ContainElement(id))
		Expect(table.Fire(time.Now().Add(200 * time.Millisecond))).To(BeEmpty())
	})

	It("fires a recurring timer repeatedly until removed", func() {
		id := table.AddRecurring(25*time.Millisecond, event.TextInput, event.NoArgs{})

		base := time.Now()
		count := 0
		for i := 1; i <= 8; i++ {
			fired := table.Fire(base.Add(time.Duration(i) * 25 * time.Millisecond))
			count += len(fired)
		}
		Expect(count).To(BeNumerically(">=", 6))
		Expect(count).To(BeNumerically("<=", 10))

		Expect(table.Remove(id)).To(Succeed())
		Expect(table.Fire(base.Add(300 * time.Millisecond))).To(BeEmpty())
	})

	It("Schedule rejects a non-future timestamp", func() {
		id, err := table.Schedule(time.Now().Add(-time.Second), event.TextInput, event.NoArgs{})
		Expect(id).To(Equal(BadID))
		Expect(err).To(MatchError(ErrNotFuture))
		Expect(table.List()).To(BeEmpty())
	})

	It("Schedule installs a one-shot timer for a future timestamp", func() {
		id, err := table.Schedule(time.Now().Add(time.Hour), event.TextInput, event.NoArgs{})
		Expect(err).NotTo(HaveOccurred())
		Expect(table.List()).To(ContainElement(id))
	})

	It("deep-copies args so firing a timer twice does not alias state", func() {
		id := table.AddRecurring(10*time.Millisecond, event.TextInput, event.StringArgs{Value: "a"})
		base := time.Now()
		first := table.Fire(base.Add(10 * time.Millisecond))
		second := table.Fire(base.Add(20 * time.Millisecond))
		Expect(first).To(HaveLen(1))
		Expect(second).To(HaveLen(1))

		mutated := first[0].Args.(event.StringArgs)
		mutated.Value = "mutated"
		first[0].Args = mutated
		Expect(second[0].Args.(event.StringArgs).Value).To(Equal("a"))
		Expect(table.Remove(id)).To(Succeed())
	})
})
