package main

import (
	"fmt"
	"log"
	"reflect"

	"github.com/kevinxiao27/opset/ol"
	"github.com/kevinxiao27/opset/opset"
	"github.com/sanity-io/litter"
)

func main() {
	doc1 := opset.Init(opset.WithActor("a"))
	doc1, _, err := opset.Change(doc1, func(c *opset.Context) error {
		text, err := c.NewText(ol.RootID, "text")
		if err != nil {
			return err
		}
		return c.InsertText(text, 0, "hi")
	})
	if err != nil {
		log.Fatal(err)
	}

	doc2 := doc1.Fork("z")
	text, _, _ := opset.GetIn(doc1, "text")
	doc1, _, err = opset.Change(doc1, func(c *opset.Context) error {
		return c.InsertText(text.Obj, 2, "!")
	})
	if err != nil {
		log.Fatal(err)
	}
	doc2, _, err = opset.Change(doc2, func(c *opset.Context) error {
		if err := c.InsertText(text.Obj, 2, " yoooo"); err != nil {
			return err
		}
		return c.Set(ol.RootID, "author", ol.Str("z"))
	})
	if err != nil {
		log.Fatal(err)
	}

	if doc1, err = opset.MergeInto(doc1, doc2); err != nil {
		log.Fatal(err)
	}
	if doc2, err = opset.MergeInto(doc2, doc1); err != nil {
		log.Fatal(err)
	}

	result1, err := opset.Materialize(doc1, ol.RootID)
	if err != nil {
		log.Fatal(err)
	}
	result2, err := opset.Materialize(doc2, ol.RootID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Result: %s\n", litter.Sdump(result1))
	fmt.Printf("Result: %s\n", litter.Sdump(result2))

	if reflect.DeepEqual(result1, result2) {
		fmt.Println("Replicas match")
	} else {
		fmt.Println("Replicas differ")
	}
	fmt.Printf("Version: %v\n", doc1.Version())
}
